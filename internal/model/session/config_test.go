package session

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero config", Config{}, false},
		{"timeout lower bound", Config{RecvTimeout: MinRecvTimeout}, false},
		{"timeout upper bound", Config{RecvTimeout: MaxRecvTimeout}, false},
		{"timeout too small", Config{RecvTimeout: MinRecvTimeout - 1}, true},
		{"timeout too large", Config{RecvTimeout: MaxRecvTimeout + 1}, true},
		{"audio input", Config{InputMod: InputModAudio}, false},
		{"audio file input", Config{InputMod: InputModAudioFile}, false},
		{"unknown input", Config{InputMod: "telepathy"}, true},
	}

	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if tc.wantErr && !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: error not wrapping ErrInvalidConfig: %v", tc.name, err)
		}
	}
}

func TestMergeFillsOnlyMissing(t *testing.T) {
	defaults := Config{
		Speaker:     "default_voice",
		BotName:     "默认助手",
		RecvTimeout: 60,
		InputMod:    InputModAudio,
	}

	merged := Config{Speaker: "custom_voice"}.Merge(defaults)
	if merged.Speaker != "custom_voice" {
		t.Fatalf("explicit speaker overwritten: %q", merged.Speaker)
	}
	if merged.BotName != "默认助手" || merged.RecvTimeout != 60 || merged.InputMod != InputModAudio {
		t.Fatalf("defaults not applied: %+v", merged)
	}

	untouched := Config{}.Merge(defaults)
	if untouched != defaults {
		t.Fatalf("empty config should merge to defaults: %+v", untouched)
	}
}
