package serialization

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestSerializer_Marshal_JSON(t *testing.T) {
	s := NewJSONSerializer()

	type testData struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	data := testData{Name: "test", Value: 42}
	bytes, err := s.Marshal(data)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// Check format prefix
	if bytes[0] != byte(FormatJSON) {
		t.Errorf("Expected JSON format prefix, got %d", bytes[0])
	}

	// Verify JSON content
	if !strings.Contains(string(bytes[1:]), "test") {
		t.Errorf("JSON content not found in serialized data")
	}
}

func newTestStruct(t *testing.T) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(map[string]interface{}{
		"job_name":   "send_email",
		"queue":      "emails",
		"priority":   float64(10),
		"tags":       []interface{}{"transactional", "high-priority"},
		"retryable":  true,
	})
	if err != nil {
		t.Fatalf("failed to build test struct: %v", err)
	}
	return s
}

func TestSerializer_Marshal_Protobuf(t *testing.T) {
	s := NewProtobufSerializer()

	msg := newTestStruct(t)

	bytes, err := s.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if bytes[0] != byte(FormatProtobuf) {
		t.Errorf("Expected Protobuf format prefix, got %d", bytes[0])
	}

	// Protobuf encodes strings as length-delimited fields, so text may be visible.
	// The important thing is that it's not JSON format (no quotes, braces, etc.)
	payload := string(bytes[1:])
	if strings.Contains(payload, `"job_name"`) || strings.Contains(payload, `{`) {
		t.Errorf("Protobuf should not be in JSON format")
	}
}

func TestSerializer_Unmarshal_JSON(t *testing.T) {
	s := NewJSONSerializer()

	type testData struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	original := testData{Name: "test", Value: 42}
	bytes, err := s.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var result testData
	if err := s.Unmarshal(bytes, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if result.Name != original.Name || result.Value != original.Value {
		t.Errorf("Unmarshal produced incorrect result: got %+v, want %+v", result, original)
	}
}

func TestSerializer_Unmarshal_Protobuf(t *testing.T) {
	s := NewProtobufSerializer()

	original := newTestStruct(t)

	bytes, err := s.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	result := &structpb.Struct{}
	if err := s.Unmarshal(bytes, result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if result.Fields["job_name"].GetStringValue() != original.Fields["job_name"].GetStringValue() {
		t.Errorf("job_name mismatch: got %s, want %s",
			result.Fields["job_name"].GetStringValue(), original.Fields["job_name"].GetStringValue())
	}
	if result.Fields["priority"].GetNumberValue() != original.Fields["priority"].GetNumberValue() {
		t.Errorf("priority mismatch: got %v, want %v",
			result.Fields["priority"].GetNumberValue(), original.Fields["priority"].GetNumberValue())
	}
	if len(result.Fields["tags"].GetListValue().GetValues()) != len(original.Fields["tags"].GetListValue().GetValues()) {
		t.Errorf("tags length mismatch")
	}
}

func TestSerializer_DetectFormat_WithPrefix(t *testing.T) {
	s := NewSerializer(FormatJSON)

	tests := []struct {
		name           string
		data           []byte
		expectedFormat PayloadFormat
		expectError    bool
	}{
		{
			name:           "JSON with prefix",
			data:           []byte{byte(FormatJSON), '{', '}'},
			expectedFormat: FormatJSON,
			expectError:    false,
		},
		{
			name:           "Protobuf with prefix",
			data:           []byte{byte(FormatProtobuf), 0x0a, 0x05},
			expectedFormat: FormatProtobuf,
			expectError:    false,
		},
		{
			name:           "Legacy JSON without prefix",
			data:           []byte("{\"key\":\"value\"}"),
			expectedFormat: FormatJSON,
			expectError:    false,
		},
		{
			name:           "Legacy JSON array without prefix",
			data:           []byte("[1,2,3]"),
			expectedFormat: FormatJSON,
			expectError:    false,
		},
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, payload, err := s.DetectFormat(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if format != tt.expectedFormat {
				t.Errorf("Format mismatch: got %d, want %d", format, tt.expectedFormat)
			}

			if tt.data[0] == byte(FormatJSON) || tt.data[0] == byte(FormatProtobuf) {
				if len(payload) != len(tt.data)-1 {
					t.Errorf("Payload length mismatch: got %d, want %d", len(payload), len(tt.data)-1)
				}
			}
		})
	}
}

func TestSerializer_BackwardCompatibility_JSON(t *testing.T) {
	s := NewProtobufSerializer() // Default to protobuf

	// Simulate legacy JSON payload without format prefix
	legacyJSON := []byte("{\"name\":\"test\",\"value\":123}")

	type testData struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	var result testData
	if err := s.Unmarshal(legacyJSON, &result); err != nil {
		t.Fatalf("Failed to unmarshal legacy JSON: %v", err)
	}

	if result.Name != "test" || result.Value != 123 {
		t.Errorf("Legacy JSON deserialization failed: got %+v", result)
	}
}

func TestSerializer_IsProtobuf(t *testing.T) {
	s := NewSerializer(FormatJSON)

	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{
			name:     "Protobuf with prefix",
			data:     []byte{byte(FormatProtobuf), 0x0a, 0x05},
			expected: true,
		},
		{
			name:     "JSON with prefix",
			data:     []byte{byte(FormatJSON), '{', '}'},
			expected: false,
		},
		{
			name:     "Legacy JSON",
			data:     []byte("{\"key\":\"value\"}"),
			expected: false,
		},
		{
			name:     "Empty",
			data:     []byte{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.IsProtobuf(tt.data)
			if result != tt.expected {
				t.Errorf("IsProtobuf() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSerializer_IsJSON(t *testing.T) {
	s := NewSerializer(FormatJSON)

	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{
			name:     "JSON with prefix",
			data:     []byte{byte(FormatJSON), '{', '}'},
			expected: true,
		},
		{
			name:     "Legacy JSON object",
			data:     []byte("{\"key\":\"value\"}"),
			expected: true,
		},
		{
			name:     "Legacy JSON array",
			data:     []byte("[1,2,3]"),
			expected: true,
		},
		{
			name:     "Protobuf with prefix",
			data:     []byte{byte(FormatProtobuf), 0x0a, 0x05},
			expected: false,
		},
		{
			name:     "Empty",
			data:     []byte{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.IsJSON(tt.data)
			if result != tt.expected {
				t.Errorf("IsJSON() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSerializer_MarshalWithFormat(t *testing.T) {
	s := NewSerializer(FormatJSON)

	type testData struct {
		Name string `json:"name"`
	}

	data := testData{Name: "test"}

	// Test explicit JSON format
	jsonBytes, err := s.MarshalWithFormat(data, FormatJSON)
	if err != nil {
		t.Fatalf("MarshalWithFormat(JSON) failed: %v", err)
	}
	if jsonBytes[0] != byte(FormatJSON) {
		t.Errorf("Expected JSON prefix")
	}

	// Test protobuf format with non-proto message (should fail)
	_, err = s.MarshalWithFormat(data, FormatProtobuf)
	if err == nil {
		t.Errorf("Expected error when marshaling non-proto message as protobuf")
	}
}

func TestSerializer_UnmarshalWithFormat(t *testing.T) {
	s := NewSerializer(FormatJSON)

	type testData struct {
		Name string `json:"name"`
	}

	original := testData{Name: "test"}

	// Marshal with JSON
	bytes, err := s.MarshalWithFormat(original, FormatJSON)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// Get payload without prefix
	_, payload, err := s.DetectFormat(bytes)
	if err != nil {
		t.Fatalf("DetectFormat failed: %v", err)
	}

	// Unmarshal with explicit format
	var result testData
	if err := s.UnmarshalWithFormat(payload, &result, FormatJSON); err != nil {
		t.Fatalf("UnmarshalWithFormat failed: %v", err)
	}

	if result.Name != original.Name {
		t.Errorf("Data mismatch after unmarshal")
	}
}

func TestSerializer_ErrorCases(t *testing.T) {
	s := NewSerializer(FormatJSON)

	t.Run("Empty payload unmarshal", func(t *testing.T) {
		var result map[string]string
		err := s.Unmarshal([]byte{}, &result)
		if err == nil {
			t.Errorf("Expected error for empty payload")
		}
	})

	t.Run("Malformed JSON", func(t *testing.T) {
		data := []byte{byte(FormatJSON), '{', '{', '{'}
		var result map[string]string
		err := s.Unmarshal(data, &result)
		if err == nil {
			t.Errorf("Expected error for malformed JSON")
		}
	})

	t.Run("Malformed protobuf", func(t *testing.T) {
		data := []byte{byte(FormatProtobuf), 0xFF, 0xFF, 0xFF}
		result := &structpb.Struct{}
		err := s.Unmarshal(data, result)
		if err == nil {
			t.Errorf("Expected error for malformed protobuf")
		}
	})

	t.Run("Unknown format", func(t *testing.T) {
		data := []byte{0xFF, 0x00, 0x00}
		var result map[string]string
		err := s.Unmarshal(data, &result)
		if err == nil {
			t.Errorf("Expected error for unknown format")
		}
	})
}

func TestSerializer_RoundTrip_NestedProto(t *testing.T) {
	s := NewProtobufSerializer()

	original, err := structpb.NewStruct(map[string]interface{}{
		"job_id": "a1b2c3",
		"metadata": map[string]interface{}{
			"source":     "api",
			"attempt":    float64(2),
			"routing":    []interface{}{"gpu", "default"},
			"retryable":  true,
		},
	})
	if err != nil {
		t.Fatalf("failed to build nested struct: %v", err)
	}

	bytes, err := s.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	result := &structpb.Struct{}
	if err := s.Unmarshal(bytes, result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if result.Fields["job_id"].GetStringValue() != original.Fields["job_id"].GetStringValue() {
		t.Errorf("job_id mismatch")
	}

	metadata := result.Fields["metadata"].GetStructValue()
	originalMetadata := original.Fields["metadata"].GetStructValue()
	if metadata.Fields["attempt"].GetNumberValue() != originalMetadata.Fields["attempt"].GetNumberValue() {
		t.Errorf("nested field mismatch: attempt")
	}
	if len(metadata.Fields["routing"].GetListValue().GetValues()) != len(originalMetadata.Fields["routing"].GetListValue().GetValues()) {
		t.Errorf("nested array length mismatch")
	}
}
