package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/tool"
)

// NoClassification is the reserved label meaning "handle locally".
const NoClassification = "NO_CLASSIFICATION"

// Labels of the parallel strategy's gate.
const (
	LabelTask     = "task"
	LabelFollowUp = "follow-up-question"
)

const (
	classifyToolName = "classify"
	classifyProperty = "label"
)

// Classify asks model to put the conversation into exactly one of labels.
// The model is forced to call a classify tool whose argument is an enum of
// the labels; a plain-text reply is accepted as a fallback. A label outside
// the set is reported as *hanabi.ClassificationAmbiguityError.
func Classify(ctx context.Context, model hanabi.ChatProvider, messages []hanabi.Message, labels []string, opts ...hanabi.Option) (string, error) {
	classifier := hanabi.Tool{
		Name:        classifyToolName,
		Description: "Report the category of the user's latest request.",
		Parameters:  tool.EnumSchema(classifyProperty, "The category.", labels),
	}

	prompt := hanabi.NewSystemMessage(fmt.Sprintf(
		"Classify the latest user request of this conversation into exactly one of these categories: %s. Call the %s tool with the category.",
		strings.Join(labels, ", "), classifyToolName,
	))
	msgs := append([]hanabi.Message{prompt}, messages...)

	chatOpts := append([]hanabi.Option{
		hanabi.WithTools([]hanabi.Tool{classifier}),
		hanabi.WithToolChoice(hanabi.ToolChoiceRequired),
	}, opts...)

	resp, err := model.Chat(ctx, msgs, chatOpts...)
	if err != nil {
		return "", fmt.Errorf("classification: %w", err)
	}

	label := labelFrom(resp)
	for _, l := range labels {
		if label == l {
			return label, nil
		}
	}
	return "", &hanabi.ClassificationAmbiguityError{Label: label, Allowed: labels}
}

func labelFrom(resp *hanabi.Response) string {
	for _, tc := range resp.ToolCalls {
		if tc.Name != classifyToolName {
			continue
		}
		var args map[string]string
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err == nil {
			return strings.TrimSpace(args[classifyProperty])
		}
	}
	return strings.Trim(strings.TrimSpace(resp.Content), "\"'`.")
}
