package serialization

import (
	"testing"

	"github.com/huykn/distributed-map/types"
)

func TestSerializerToData(t *testing.T) {
	serializer := NewSerializer(nil)

	data, err := serializer.ToData(map[string]any{"name": "John", "age": 30})
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	if len(data) == 0 {
		t.Fatal("Serialized data should not be empty")
	}
}

func TestSerializerNilIsAbsent(t *testing.T) {
	serializer := NewSerializer(nil)

	data, err := serializer.ToData(nil)
	if err != nil {
		t.Fatalf("Failed to serialize nil: %v", err)
	}
	if !data.IsAbsent() {
		t.Fatal("nil object should serialize to absent Data")
	}

	obj, err := serializer.ToObject(nil)
	if err != nil {
		t.Fatalf("Failed to deserialize absent: %v", err)
	}
	if obj != nil {
		t.Fatalf("Expected nil object, got %v", obj)
	}
}

func TestSerializerDataPassThrough(t *testing.T) {
	serializer := NewSerializer(nil)
	in := types.Data("raw")

	out, err := serializer.ToData(in)
	if err != nil {
		t.Fatalf("Failed to serialize Data: %v", err)
	}
	if !out.Equal(in) {
		t.Fatalf("Expected Data to pass through, got %v", out)
	}
}

func TestSerializerRoundTripStruct(t *testing.T) {
	type User struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	serializer := NewSerializer(nil)
	user := User{ID: 1, Name: "John"}

	data, err := serializer.ToData(user)
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	var result User
	if err := serializer.ToObjectInto(data, &result); err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}

	if result != user {
		t.Fatalf("Deserialized value doesn't match original")
	}
}

func TestSerializerEqualObjectsEqualData(t *testing.T) {
	serializer := NewSerializer(nil)

	a, _ := serializer.ToData("user:1")
	b, _ := serializer.ToData("user:1")
	if !a.Equal(b) || a.Hash() != b.Hash() {
		t.Fatal("Equal objects should produce equal Data")
	}
}

func TestSerializerInvalidData(t *testing.T) {
	serializer := NewSerializer(nil)

	if _, err := serializer.ToObject(types.Data("{not json")); err == nil {
		t.Fatal("Expected deserialization error")
	}
}

func TestGetSerializer(t *testing.T) {
	tests := []struct {
		format string
		valid  bool
	}{
		{"json", true},
		{"", true},
		{"invalid", false},
	}

	for _, test := range tests {
		serializer, err := GetSerializer(test.format)
		if test.valid && err != nil {
			t.Fatalf("Failed to get serializer for format %s: %v", test.format, err)
		}
		if !test.valid && err == nil {
			t.Fatalf("Should return error for invalid format %s", test.format)
		}
		if test.valid && serializer == nil {
			t.Fatalf("Serializer should not be nil for format %s", test.format)
		}
	}
}
