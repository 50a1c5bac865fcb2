package openai

import (
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
)

// applyParameters copies the prompt template's invocation parameters onto
// req. Unknown keys are ignored.
func applyParameters(req *goopenai.ChatCompletionRequest, params map[string]any) error {
	for key, raw := range params {
		switch key {
		case "temperature":
			v, err := float32Param(key, raw)
			if err != nil {
				return err
			}
			req.Temperature = v
		case "top_p":
			v, err := float32Param(key, raw)
			if err != nil {
				return err
			}
			req.TopP = v
		case "presence_penalty":
			v, err := float32Param(key, raw)
			if err != nil {
				return err
			}
			req.PresencePenalty = v
		case "frequency_penalty":
			v, err := float32Param(key, raw)
			if err != nil {
				return err
			}
			req.FrequencyPenalty = v
		case "max_tokens":
			v, err := intParam(key, raw)
			if err != nil {
				return err
			}
			req.MaxTokens = v
		case "seed":
			v, err := intParam(key, raw)
			if err != nil {
				return err
			}
			req.Seed = &v
		case "stop":
			v, err := stopParam(raw)
			if err != nil {
				return err
			}
			req.Stop = v
		}
	}
	return nil
}

func float32Param(key string, raw any) (float32, error) {
	switch v := raw.(type) {
	case float64:
		return float32(v), nil
	case float32:
		return v, nil
	case int:
		return float32(v), nil
	case int64:
		return float32(v), nil
	default:
		return 0, fmt.Errorf("openai: parameter %q must be a number, got %T", key, raw)
	}
}

func intParam(key string, raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("openai: parameter %q must be an integer, got %v", key, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("openai: parameter %q must be an integer, got %T", key, raw)
	}
}

func stopParam(raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("openai: parameter \"stop\" entries must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("openai: parameter \"stop\" must be a string or list, got %T", raw)
	}
}
