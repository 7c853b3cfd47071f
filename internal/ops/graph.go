package ops

import (
	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/graph"
)

// GraphInput contains parameters for the Graph operation.
type GraphInput struct {
	// Drafts adds the draft content files to the deployed skills.
	Drafts bool
}

// Graph builds the reference graph among deployed skills.
func Graph(env *Env, input GraphInput) (*graph.Graph, error) {
	dirs := []string{env.Config.SkillsDir}
	if input.Drafts {
		dirs = append(dirs, env.Config.DraftsDir)
	}
	files, err := graph.Collect(dirs...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return graph.Build(files), nil
}
