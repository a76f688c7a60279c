package querybus

import "testing"

type animal interface {
	Sound() string
}

type dog struct{}

func (dog) Sound() string { return "woof" }

func TestResponseType_Matches(t *testing.T) {
	tests := []struct {
		name      string
		expected  ResponseType
		candidate ResponseType
		want      bool
	}{
		{"identical single", InstanceOf[string](), InstanceOf[string](), true},
		{"single vs optional interchange", InstanceOf[string](), OptionalInstanceOf[string](), true},
		{"optional vs single interchange", OptionalInstanceOf[string](), InstanceOf[string](), true},
		{"different element types", InstanceOf[string](), InstanceOf[int](), false},
		{"single never matches list", InstanceOf[string](), MultipleInstancesOf[string](), false},
		{"list never matches single", MultipleInstancesOf[string](), InstanceOf[string](), false},
		{"list matches list", MultipleInstancesOf[string](), MultipleInstancesOf[string](), true},
		{"concrete satisfies interface", InstanceOf[animal](), InstanceOf[dog](), true},
		{"interface does not satisfy concrete", InstanceOf[dog](), InstanceOf[animal](), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.expected.Matches(tt.candidate); got != tt.want {
				t.Errorf("Matches(%s, %s) = %v, want %v", tt.expected, tt.candidate, got, tt.want)
			}
		})
	}
}

func TestResponseType_Convert(t *testing.T) {
	t.Run("single passes assignable values through", func(t *testing.T) {
		got, err := InstanceOf[string]().Convert("hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "hello" {
			t.Errorf("got %v, want hello", got)
		}
	})

	t.Run("single rejects nil", func(t *testing.T) {
		if _, err := InstanceOf[string]().Convert(nil); err == nil {
			t.Error("expected error for nil single result")
		}
	})

	t.Run("single rejects wrong type", func(t *testing.T) {
		if _, err := InstanceOf[string]().Convert(42); err == nil {
			t.Error("expected error converting int to single<string>")
		}
	})

	t.Run("optional converts nil to zero value", func(t *testing.T) {
		got, err := OptionalInstanceOf[*dog]().Convert(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != (*dog)(nil) {
			t.Errorf("got %v, want typed nil", got)
		}
	})

	t.Run("list passes typed slices through", func(t *testing.T) {
		got, err := MultipleInstancesOf[string]().Convert([]string{"a", "b"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		s, ok := got.([]string)
		if !ok || len(s) != 2 {
			t.Errorf("got %T %v, want []string of len 2", got, got)
		}
	})

	t.Run("list converts element-wise from []any", func(t *testing.T) {
		got, err := MultipleInstancesOf[string]().Convert([]any{"a", "b"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		s, ok := got.([]string)
		if !ok || len(s) != 2 || s[0] != "a" {
			t.Errorf("got %T %v, want []string{a b}", got, got)
		}
	})

	t.Run("list converts nil to empty slice", func(t *testing.T) {
		got, err := MultipleInstancesOf[string]().Convert(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s, ok := got.([]string); !ok || len(s) != 0 {
			t.Errorf("got %T %v, want empty []string", got, got)
		}
	})

	t.Run("list rejects non-slices", func(t *testing.T) {
		if _, err := MultipleInstancesOf[string]().Convert("a"); err == nil {
			t.Error("expected error converting string to list<string>")
		}
	})
}
