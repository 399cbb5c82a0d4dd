package persistence

import "encoding/json"

// encodeVector/decodeVector convert between the in-memory []float32 an
// embedding is computed as and the JSON text column it's stored in.
func encodeVector(v []float32) (string, error) {
	if len(v) == 0 {
 return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
 return "", err
	}
	return string(b), nil
}

func decodeVector(s string) ([]float32, error) {
	if s == "" {
 return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
 return nil, err
	}
	return v, nil
}
