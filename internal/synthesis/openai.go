package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/nidhogg/lexicore/internal/catalog"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"go.uber.org/zap"
)

// Construction is the result produced by OpenAISynthesizer: a new expression
// built from the input senses.
type Construction struct {
	Phrase      string `json:"phrase" jsonschema:"required,description=The combined expression"`
	Meaning     string `json:"meaning" jsonschema:"required,description=Plain-language meaning of the expression"`
	Example     string `json:"example" jsonschema:"required,description=One sentence using the expression"`
	Explanation string `json:"explanation" jsonschema:"required,description=How the input senses contribute to the meaning"`
}

const synthesisInstructions = `You combine vocabulary senses into a single natural expression.
Use every input sense. Prefer idiomatic, commonly attested constructions.
Answer only with JSON matching the schema.`

var constructionSchema = generateSchema[Construction]()

// OpenAISynthesizer builds Constructions with the OpenAI Responses API.
type OpenAISynthesizer struct {
	client  *openai.Client
	model   string
	catalog catalog.Catalog
	logger  *zap.Logger
}

// NewOpenAISynthesizer creates a synthesizer using apiKey and model.
func NewOpenAISynthesizer(apiKey, model string, cat catalog.Catalog, logger *zap.Logger) *OpenAISynthesizer {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAISynthesizer{client: &client, model: model, catalog: cat, logger: logger}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, inputIDs []string) (json.RawMessage, error) {
	prompt, err := s.prompt(ctx, inputIDs)
	if err != nil {
		return nil, err
	}

	params := responses.ResponseNewParams{
		Model:           s.model,
		MaxOutputTokens: openai.Int(600),
		Instructions:    openai.String(synthesisInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(prompt, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "Construction",
					Schema:      constructionSchema,
					Strict:      openai.Bool(true),
					Description: openai.String("Synthesized construction JSON"),
					Type:        "json_schema",
				},
			},
		},
	}

	start := time.Now()
	resp, err := s.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses: %w", err)
	}

	var out Construction
	if err := decodeModelJSON(resp.OutputText(), &out); err != nil {
		return nil, fmt.Errorf("decode construction: %w", err)
	}
	s.logger.Debug("construction synthesized",
		zap.Strings("inputs", inputIDs),
		zap.Duration("duration", time.Since(start)))
	return json.Marshal(out)
}

func (s *OpenAISynthesizer) prompt(ctx context.Context, inputIDs []string) (string, error) {
	var b strings.Builder
	b.WriteString("Input senses:\n")
	for _, id := range inputIDs {
		sense, err := s.catalog.Get(ctx, id)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", sense.Lemma, sense.Level, sense.Gloss)
	}
	return b.String(), nil
}

// decodeModelJSON unmarshals model output, falling back to the outermost
// JSON object when the model wraps it in prose.
func decodeModelJSON(outputText string, v any) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return errors.New("empty model output")
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}

// generateSchema reflects T into a strict JSON schema map: every property
// required, no additional properties.
func generateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	data, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		panic(err)
	}
	strictObjects(m)
	return m
}

func strictObjects(schema map[string]interface{}) {
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return
	}
	schema["additionalProperties"] = false
	required := make([]string, 0, len(props))
	for name, p := range props {
		required = append(required, name)
		if pm, ok := p.(map[string]interface{}); ok {
			strictObjects(pm)
		}
	}
	schema["required"] = required
}
