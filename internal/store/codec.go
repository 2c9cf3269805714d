package store

import "encoding/json"

// EncodeRow converts a struct with json tags into a Row.
func EncodeRow(v any) (Row, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// DecodeRow fills out (a struct pointer) from a Row.
func DecodeRow(row Row, out any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// DecodeRows fills out (a slice pointer) from a result set.
func DecodeRows(rows []Row, out any) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
