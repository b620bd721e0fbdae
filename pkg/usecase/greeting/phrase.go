package greeting

import (
	"bytes"
	"context"
	"text/template"
	"time"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/policy"
	"github.com/m-mizutani/goerr/v2"
)

const DefaultTemplate = "Xin chào bạn {{.Name}}"

// DefaultVoice leaves the voice name to the synthesizer's default
var DefaultVoice = model.Voice{LanguageCode: "vi-VN"}

// Phrase builds the greeting text for an identity
type Phrase struct {
	tmpl   *template.Template
	voice  model.Voice
	policy *policy.Greeting
}

type phraseData struct {
	Name string
	Age  int
}

// NewPhrase parses tmpl. An empty tmpl uses DefaultTemplate. policy may be
// nil.
func NewPhrase(tmpl string, voice model.Voice, p *policy.Greeting) (*Phrase, error) {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	t, err := template.New("greeting").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse greeting template", goerr.V("template", tmpl))
	}
	if voice.LanguageCode == "" {
		voice.LanguageCode = DefaultVoice.LanguageCode
	}

	return &Phrase{tmpl: t, voice: voice, policy: p}, nil
}

// Build returns the text and voice for identity. A policy decision takes
// precedence over the template.
func (p *Phrase) Build(ctx context.Context, identity *model.Identity, now time.Time) (string, model.Voice, error) {
	voice := p.voice

	decision, err := p.policy.Eval(ctx, policy.NewGreetingInput(identity, now))
	if err != nil {
		return "", voice, err
	}
	if decision.LanguageCode != "" {
		voice.LanguageCode = decision.LanguageCode
	}
	if decision.Text != "" {
		return decision.Text, voice, nil
	}

	data := phraseData{Name: identity.Name}
	if age, ok := identity.Age(now); ok {
		data.Age = age
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", voice, goerr.Wrap(err, "failed to render greeting", goerr.V("id", identity.ID))
	}
	return buf.String(), voice, nil
}
