// Package bedrock provides a step classifier backed by a model hosted on
// AWS Bedrock.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/hairizuan-noorazman/testflow/backend"
	"github.com/hairizuan-noorazman/testflow/logger"
	"github.com/hairizuan-noorazman/testflow/testcase"
)

const defaultMaxTextLength = 4000

// Invoker is the subset of the Bedrock runtime client the classifier uses.
type Invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config configures the classifier.
type Config struct {
	Region        string
	ModelID       string
	MaxTokens     int
	MaxTextLength int
}

// Classifier asks a Bedrock model which backend type a step belongs to.
type Classifier struct {
	client Invoker
	cfg    Config
	logger logger.Logger
}

// NewClassifier loads the default AWS configuration for the region and
// creates a classifier.
func NewClassifier(ctx context.Context, cfg Config, log logger.Logger) (*Classifier, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewClassifierWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg, log), nil
}

// NewClassifierWithClient creates a classifier over an existing client.
func NewClassifierWithClient(client Invoker, cfg Config, log logger.Logger) *Classifier {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 16
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = defaultMaxTextLength
	}
	return &Classifier{
		client: client,
		cfg:    cfg,
		logger: log,
	}
}

// Classify returns the backend type named by the model, or
// backend.Unclassified when the answer is not one of the known types.
func (c *Classifier) Classify(ctx context.Context, text string, cc backend.ClassifyContext) (testcase.Type, error) {
	if err := checkSuspicious(text); err != nil {
		c.logger.Warn(ctx, "refusing to classify step", map[string]interface{}{
			"case_key": cc.CaseKey,
			"reason":   err.Error(),
		})
		return backend.Unclassified, err
	}

	requestBody := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        c.cfg.MaxTokens,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type": "text",
						"text": buildPrompt(sanitize(text, c.cfg.MaxTextLength), cc, c.cfg.MaxTextLength),
					},
				},
			},
		},
	}

	payload, err := json.Marshal(requestBody)
	if err != nil {
		return backend.Unclassified, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.cfg.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return backend.Unclassified, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return backend.Unclassified, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(response.Content) == 0 {
		return backend.Unclassified, nil
	}

	t := parseAnswer(response.Content[0].Text)
	c.logger.Debug(ctx, "step classified by model", map[string]interface{}{
		"case_key": cc.CaseKey,
		"type":     string(t),
	})
	return t, nil
}

func buildPrompt(text string, cc backend.ClassifyContext, max int) string {
	return fmt.Sprintf(`Classify the test step below by the automation backend that must execute it.
Answer with exactly one word: ui, api, mobile, database or unknown.

<context>
<user_story>%s</user_story>
<case>%s</case>
</context>

<step>
%s
</step>`, sanitize(cc.UserStory, 256), sanitize(cc.Title, 256), text)
}

// parseAnswer takes the first word of the answer that names a type.
func parseAnswer(answer string) testcase.Type {
	fields := strings.FieldsFunc(strings.ToLower(answer), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	for _, f := range fields {
		switch f {
		case "sql", "db":
			return testcase.TypeDatabase
		case "web", "browser":
			return testcase.TypeUI
		case "unknown":
			return backend.Unclassified
		}
		if t := testcase.Type(f); t.IsValid() {
			return t
		}
	}
	return backend.Unclassified
}
