package policy

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const greetingQuery = "data.greeting"

// GreetingInput is the document a greeting policy evaluates as input
type GreetingInput struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Age         *int   `json:"age,omitempty"`
	Today       string `json:"today"`
}

// GreetingResult is what the policy decided. Empty fields mean "use the default".
type GreetingResult struct {
	Text         string
	LanguageCode string
}

// Greeting evaluates Rego rules under package "greeting". A policy may
// define `text` and `language_code`.
type Greeting struct {
	query *rego.PreparedEvalQuery
}

type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// LoadGreeting reads a single .rego file, or every .rego file when path is
// a directory. It returns nil when the directory has no policy files.
func LoadGreeting(ctx context.Context, path string) (*Greeting, error) {
	files, err := policyFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.Value("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}

	return prepare(ctx, modules)
}

// NewGreeting compiles a policy from source text
func NewGreeting(ctx context.Context, source string) (*Greeting, error) {
	return prepare(ctx, []func(*rego.Rego){rego.Module("greeting.rego", source)})
}

func policyFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat policy path", goerr.Value("path", path))
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	files, err := filepath.Glob(filepath.Join(path, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files")
	}
	return files, nil
}

func prepare(ctx context.Context, modules []func(*rego.Rego)) (*Greeting, error) {
	options := make([]func(*rego.Rego), 0, len(modules)+2)
	options = append(options, rego.Query(greetingQuery), rego.EnablePrintStatements(true))
	options = append(options, modules...)

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare greeting policy", goerr.Value("query", greetingQuery))
	}

	return &Greeting{query: &prepared}, nil
}

// NewGreetingInput builds the policy input for identity at now
func NewGreetingInput(identity *model.Identity, now time.Time) GreetingInput {
	input := GreetingInput{
		Name:  identity.Name,
		Today: now.Format(time.DateOnly),
	}
	if identity.DateOfBirth != nil {
		input.DateOfBirth = identity.DateOfBirth.Format(time.DateOnly)
	}
	if age, ok := identity.Age(now); ok {
		input.Age = &age
	}
	return input
}

// Eval runs the policy. A nil receiver returns an empty result.
func (g *Greeting) Eval(ctx context.Context, input GreetingInput) (*GreetingResult, error) {
	if g == nil {
		return &GreetingResult{}, nil
	}

	doc := map[string]any{
		"name":  input.Name,
		"today": input.Today,
	}
	if input.DateOfBirth != "" {
		doc["date_of_birth"] = input.DateOfBirth
	}
	if input.Age != nil {
		doc["age"] = *input.Age
	}

	rs, err := g.query.Eval(ctx, rego.EvalInput(doc), rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate greeting policy", goerr.V("name", input.Name))
	}

	result := &GreetingResult{}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return result, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("unexpected greeting policy result",
			goerr.V("value", rs[0].Expressions[0].Value))
	}

	if v, ok := data["text"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, goerr.New("greeting text must be a string", goerr.V("text", v))
		}
		result.Text = s
	}
	if v, ok := data["language_code"].(string); ok {
		result.LanguageCode = v
	}

	return result, nil
}
