package audit

import (
	"encoding/json"

	"github.com/google/uuid"
)

func marshalAny(v any) ([]byte, error) {
	return json.Marshal(v)
}

func newID() string {
	return uuid.New().String()
}
