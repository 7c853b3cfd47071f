package web

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/ops"
	"github.com/hpungsan/skillminer/internal/skill"
)

// Handlers contains HTTP route handlers for the review UI.
type Handlers struct {
	env      *ops.Env
	renderer *Renderer
}

// HandleList handles GET /skills.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	domain := r.URL.Query().Get("domain")

	result, err := ops.List(h.env, ops.ListInput{Status: status, Domain: domain})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "list", ListPageData{
		PageData: h.renderer.page("Skills", "skills"),
		Skills:   result.Skills,
		Counts:   result.Counts,
		Pending:  result.Pending,
		LastRun:  result.LastRun,
		Statuses: []skill.Status{skill.StatusDraft, skill.StatusApproved, skill.StatusDeployed, skill.StatusRejected},
		Status:   status,
		Domain:   domain,
	})
}

// HandleDetail handles GET /skills/{slug}.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if slug == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("slug is required"))
		return
	}

	show, err := ops.Show(h.env, slug)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData:     h.renderer.page(show.Skill.Slug, "skills"),
		Skill:        show.Skill,
		RenderedHTML: renderSkill([]byte(show.Content)),
		Raw:          show.Content,
		HasDeployed:  show.Deployed != "",
		Drifted:      show.Deployed != "" && show.Deployed != show.Content,
		CanApprove:   show.Skill.Status == skill.StatusDraft,
		CanDeploy:    show.Skill.Status != skill.StatusRejected,
		CanReject:    show.Skill.Status != skill.StatusRejected,
		Message:      r.URL.Query().Get("msg"),
	})
}

// HandleDiff handles GET /skills/{slug}/diff.
func (h *Handlers) HandleDiff(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	out, err := ops.Diff(h.env, slug)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		renderJSON(w, http.StatusOK, out.Diffs[0])
		return
	}
	h.renderer.renderPage(w, r, "diff", DiffPageData{
		PageData: h.renderer.page("Diff "+slug, "skills"),
		Diff:     out.Diffs[0],
		Lines:    diffLines(out.Diffs[0].Unified),
	})
}

// HandleApprove handles POST /skills/{slug}/approve.
func (h *Handlers) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, ops.Approve)
}

// HandleReject handles POST /skills/{slug}/reject.
func (h *Handlers) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, ops.Reject)
}

// HandleDeploy handles POST /skills/{slug}/deploy. A named deploy bypasses the
// approval gate, as on the command line.
func (h *Handlers) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(env *ops.Env, slugs []string) (*ops.TransitionOutput, error) {
		return ops.Deploy(env, ops.DeployInput{Slugs: slugs})
	})
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, op func(*ops.Env, []string) (*ops.TransitionOutput, error)) {
	slug := r.PathValue("slug")
	if slug == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("slug is required"))
		return
	}

	result, err := op(h.env, []string{slug})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if len(result.Skipped) > 0 {
		s := result.Skipped[0]
		status := http.StatusBadRequest
		if s.Code == string(errors.ErrNotFound) {
			status = http.StatusNotFound
		}
		h.renderer.renderError(w, r, &errors.SkillError{Code: errors.ErrorCode(s.Code), Status: status, Message: s.Message})
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		renderJSON(w, http.StatusOK, result)
		return
	}

	msg := ""
	if len(result.Changed) > 0 {
		ch := result.Changed[0]
		msg = string(ch.From) + " → " + string(ch.To)
		if result.DryRun {
			msg += " (dry run)"
		}
	}
	http.Redirect(w, r, "/skills/"+url.PathEscape(slug)+"?msg="+url.QueryEscape(msg), http.StatusSeeOther)
}
