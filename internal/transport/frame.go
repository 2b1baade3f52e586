package transport

import (
	"encoding/json"
	"fmt"

	"github.com/Rrens/vault-chat/internal/domain"
)

const (
	frameToken   = "token"
	frameSources = "sources"
	frameDone    = "done"
	frameError   = "error"
)

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// decodeFrame is the single point where untyped JSON becomes a typed event
func decodeFrame(message []byte) (domain.StreamEvent, error) {
	var f inboundFrame
	if err := json.Unmarshal(message, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}

	switch f.Type {
	case frameToken:
		var text string
		if err := json.Unmarshal(f.Data, &text); err != nil {
			return nil, fmt.Errorf("%w: token data: %v", domain.ErrMalformedFrame, err)
		}
		return domain.TokenEvent{Text: text}, nil

	case frameSources:
		var sources []domain.Source
		if err := json.Unmarshal(f.Data, &sources); err != nil {
			return nil, fmt.Errorf("%w: sources data: %v", domain.ErrMalformedFrame, err)
		}
		return domain.SourcesEvent{Sources: sources}, nil

	case frameDone:
		return domain.DoneEvent{}, nil

	case frameError:
		return domain.ErrorEvent{Err: &domain.BackendError{Reason: errorReason(f.Data)}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", domain.ErrMalformedFrame, f.Type)
	}
}

func errorReason(data json.RawMessage) string {
	var reason string
	if err := json.Unmarshal(data, &reason); err == nil {
		return reason
	}
	if len(data) == 0 {
		return "unspecified"
	}
	return string(data)
}
