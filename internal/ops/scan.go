package ops

import (
	"context"
	"os"
	"time"

	"github.com/hpungsan/skillminer/internal/db"
	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/session"
)

// ScanInput contains parameters for the Scan operation.
type ScanInput struct {
	// Full re-parses every log, even those whose size and mtime are unchanged.
	Full bool
}

// ScanOutput contains the result of the Scan operation.
type ScanOutput struct {
	Files       int                    `json:"files"`
	Unchanged   int                    `json:"unchanged"`
	Indexed     int                    `json:"indexed"`
	Invocations int                    `json:"invocations"`
	Failures    []session.ParseFailure `json:"failures,omitempty"`
	Index       *db.IndexStats         `json:"index"`
	DryRun      bool                   `json:"dry_run"`
}

type sourceInfo struct {
	mtime time.Time
	size  int64
}

// Scan parses the session logs under the projects directory into the index.
// Logs whose size and mtime match the indexed copy are skipped.
func Scan(ctx context.Context, env *Env, input ScanInput) (*ScanOutput, error) {
	paths, err := session.Discover(env.Config.ProjectsDir)
	if err != nil {
		return nil, err
	}
	out := &ScanOutput{Files: len(paths), DryRun: env.DryRun()}

	infos := make(map[string]sourceInfo, len(paths))
	var changed []string
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			out.Failures = append(out.Failures, session.ParseFailure{Path: p, Error: err.Error()})
			continue
		}
		info := sourceInfo{mtime: fi.ModTime(), size: fi.Size()}
		infos[p] = info
		if !input.Full {
			same, err := db.SourceUnchanged(ctx, env.DB, p, info.mtime, info.size)
			if err != nil {
				return nil, err
			}
			if same {
				out.Unchanged++
				continue
			}
		}
		changed = append(changed, p)
	}

	convs, failures, err := session.ParseAll(ctx, changed, env.Config.MaxParallel, env.Logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("scan")
		}
		return nil, errors.NewInternal(err)
	}
	out.Failures = append(out.Failures, failures...)

	now := env.now()
	for _, conv := range convs {
		invs := session.Invocations(conv)
		out.Invocations += len(invs)
		out.Indexed++
		if env.DryRun() {
			continue
		}
		info := infos[conv.SourcePath]
		rec := db.ConversationRecord{
			Summary:     session.Summarize(conv),
			SourcePath:  conv.SourcePath,
			Cwd:         conv.Cwd,
			GitBranch:   conv.GitBranch,
			EndedAt:     conv.EndTime,
			SourceMTime: info.mtime,
			SourceSize:  info.size,
		}
		if err := db.UpsertConversation(ctx, env.DB, rec, invs, now); err != nil {
			return nil, err
		}
	}

	out.Index, err = db.Stats(ctx, env.DB)
	if err != nil {
		return nil, err
	}
	env.Logger.Info().
		Int("files", out.Files).
		Int("indexed", out.Indexed).
		Int("unchanged", out.Unchanged).
		Int("failed", len(out.Failures)).
		Msg("scan finished")
	return out, nil
}
