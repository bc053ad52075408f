// Command llmqueue-demo wires the admission engine to a real upstream SDK,
// demonstrating the processor contract end to end. It is an enrichment
// example, not part of the engine's tested core.
//
// Grounded on SnapdragonPartners-maestro/pkg/utils/tiktoken.go for prompt
// token estimation via github.com/tiktoken-go/tokenizer, and on the
// teacher's use of github.com/anthropics/anthropic-sdk-go and
// github.com/openai/openai-go as upstream clients (LLMQUEUE_PROVIDER picks
// between them).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/tiktoken-go/tokenizer"

	"github.com/Ganzzi/llm-queue/pkg/config"
	"github.com/Ganzzi/llm-queue/pkg/metrics"
	"github.com/Ganzzi/llm-queue/pkg/modelqueue"
	"github.com/Ganzzi/llm-queue/pkg/queue"
	"github.com/Ganzzi/llm-queue/pkg/registry"
)

// chatParams is the payload type for this demo's requests.
type chatParams struct {
	Prompt string
}

// chatResult is the result type this demo's processor returns.
type chatResult struct {
	Text string
}

// countTokens estimates prompt tokens with tiktoken, falling back to a
// char/4 heuristic if the model's encoding isn't recognized, matching the
// teacher's TokenCounter fallback.
func countTokens(text string) int {
	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return len(text) / 4
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// newAnthropicProcessor builds a processor backed by the Anthropic SDK. It
// records actual token usage on the request itself (spec §6), which the
// queue then republishes on the Response in place of the estimate.
func newAnthropicProcessor() modelqueue.Processor[chatParams, chatResult] {
	client := anthropic.NewClient(anthropicoption.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")))
	return func(ctx context.Context, req *queue.Request[chatParams]) (chatResult, error) {
		msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.ModelClaude3_5SonnetLatest,
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(req.Params.Prompt)),
			},
		})
		if err != nil {
			return chatResult{}, err
		}
		req.ActualInputTokens = int(msg.Usage.InputTokens)
		req.ActualOutputTokens = int(msg.Usage.OutputTokens)
		text := ""
		for _, block := range msg.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		return chatResult{Text: text}, nil
	}
}

// newOpenAIProcessor builds a processor backed by the OpenAI SDK, used when
// LLMQUEUE_PROVIDER=openai.
func newOpenAIProcessor() modelqueue.Processor[chatParams, chatResult] {
	client := openai.NewClient(openaioption.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
	return func(ctx context.Context, req *queue.Request[chatParams]) (chatResult, error) {
		resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModelGPT4o,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(req.Params.Prompt),
			},
		})
		if err != nil {
			return chatResult{}, err
		}
		if len(resp.Choices) == 0 {
			return chatResult{}, fmt.Errorf("openai: empty choices")
		}
		req.ActualInputTokens = int(resp.Usage.PromptTokens)
		req.ActualOutputTokens = int(resp.Usage.CompletionTokens)
		return chatResult{Text: resp.Choices[0].Message.Content}, nil
	}
}

func main() {
	configPath := os.Getenv("LLMQUEUE_CONFIG")
	if configPath == "" {
		configPath = "models.yaml"
	}

	models, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	recorder := metrics.NewPrometheusRecorder(nil)
	reg := registry.New(recorder)

	var processor modelqueue.Processor[chatParams, chatResult]
	if os.Getenv("LLMQUEUE_PROVIDER") == "openai" {
		processor = newOpenAIProcessor()
	} else {
		processor = newAnthropicProcessor()
	}

	for _, m := range models {
		if err := registry.Register[chatParams, chatResult](reg, m, processor); err != nil {
			log.Fatalf("registering model %s: %v", m.ModelID, err)
		}
	}

	prompt := "Say hello in one short sentence."
	modelID := models[0].ModelID
	req := queue.NewRequest(modelID, chatParams{Prompt: prompt})
	req.EstimatedInputTokens = countTokens(prompt)
	req.EstimatedOutputTokens = 64

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := registry.Submit[chatParams, chatResult](ctx, reg, req)
	if err != nil {
		log.Fatalf("submit failed: %v", err)
	}
	fmt.Printf("status=%s result=%q\n", resp.Status, resp.Result.Text)

	if err := reg.ShutdownAll(context.Background()); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
