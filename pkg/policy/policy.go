package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/castmate/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// Source tells the policy why a memory is about to be stored
type Source string

const (
	SourceInput    Source = "input"
	SourceTheme    Source = "theme"
	SourceEpisode  Source = "episode"
	SourceResponse Source = "response"
)

// Input is passed to Rego as `input`
type Input struct {
	OwnerID  model.OwnerID  `json:"owner_id"`
	Category model.Category `json:"category"`
	Content  string         `json:"content"`
	Source   Source         `json:"source"`
}

// Decision is the result of an admission check
type Decision struct {
	Allowed bool
	Reasons []string
}

// Admission decides whether a memory may be persisted. Policies live in
// package `memory` and add messages to the `deny` set to reject a record:
//
//	package memory
//
//	deny contains "no secrets" if {
//		contains(lower(input.content), "password")
//	}
type Admission struct {
	query *rego.PreparedEvalQuery
}

type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Load reads all .rego files in dir. An empty dir or a dir without policies admits everything.
func Load(ctx context.Context, dir string) (*Admission, error) {
	if dir == "" {
		return &Admission{}, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return &Admission{}, nil
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules[file] = string(data)
	}

	return New(ctx, modules)
}

// New prepares an admission policy from in-memory modules keyed by file name
func New(ctx context.Context, modules map[string]string) (*Admission, error) {
	if len(modules) == 0 {
		return &Admission{}, nil
	}

	options := []func(*rego.Rego){
		rego.Query("data.memory.deny"),
		rego.EnablePrintStatements(true),
	}
	for name, src := range modules {
		options = append(options, rego.Module(name, src))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare memory policy")
	}

	return &Admission{query: &prepared}, nil
}

// Enabled reports whether any policy is loaded
func (a *Admission) Enabled() bool {
	return a != nil && a.query != nil
}

// Evaluate runs the policy against input
func (a *Admission) Evaluate(ctx context.Context, input Input) (*Decision, error) {
	if !a.Enabled() {
		return &Decision{Allowed: true}, nil
	}

	rs, err := a.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&printHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate memory policy",
			goerr.V("owner_id", input.OwnerID),
			goerr.V("category", input.Category))
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &Decision{Allowed: true}, nil
	}

	set, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, goerr.New("memory.deny must be a set",
			goerr.V("type", fmt.Sprintf("%T", rs[0].Expressions[0].Value)))
	}

	reasons := make([]string, 0, len(set))
	for _, v := range set {
		reasons = append(reasons, fmt.Sprint(v))
	}
	sort.Strings(reasons)

	return &Decision{Allowed: len(reasons) == 0, Reasons: reasons}, nil
}
