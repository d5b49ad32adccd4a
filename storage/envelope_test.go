package storage

import (
	"testing"
)

func testRecord() Record {
	return Record{UserID: "u1", AccountID: "a1", APISessionKey: "api-key", TransportSessionKey: "ws-key"}
}

func TestEnvelope(t *testing.T) {
	pass := []byte("correct horse")
	aad := []byte("session/current")

	env, err := SealRecord(pass, testRecord(), aad)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}
	if env.Ver != 1 {
		t.Errorf("expected version 1, got %d", env.Ver)
	}
	if env.Scheme != SchemeSealed {
		t.Errorf("expected scheme %s, got %s", SchemeSealed, env.Scheme)
	}

	got, err := OpenRecord(pass, env, aad)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}
	if got != testRecord() {
		t.Errorf("expected %+v, got %+v", testRecord(), got)
	}

	t.Run("WrongAAD", func(t *testing.T) {
		if _, err := OpenRecord(pass, env, []byte("elsewhere")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("WrongPassphrase", func(t *testing.T) {
		if _, err := OpenRecord([]byte("nope"), env, aad); err != ErrEnvelopeKey {
			t.Errorf("expected ErrEnvelopeKey, got %v", err)
		}
	})

	t.Run("MissingPassphrase", func(t *testing.T) {
		if _, err := OpenRecord(nil, env, aad); err != ErrEnvelopeKey {
			t.Errorf("expected ErrEnvelopeKey, got %v", err)
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		bad := *env
		bad.Ver = 99
		if _, err := OpenRecord(pass, &bad, aad); err == nil {
			t.Error("expected error with unsupported version, got nil")
		}
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		bad := *env
		bad.Scheme = "unknown"
		if _, err := OpenRecord(pass, &bad, aad); err == nil {
			t.Error("expected error with unsupported scheme, got nil")
		}
	})
}

func TestEnvelopePlain(t *testing.T) {
	env, err := SealRecord(nil, testRecord(), nil)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}
	if env.Scheme != SchemePlain {
		t.Fatalf("expected plain scheme, got %s", env.Scheme)
	}
	got, err := OpenRecord(nil, env, nil)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}
	if got != testRecord() {
		t.Errorf("expected %+v, got %+v", testRecord(), got)
	}
}

func TestRecordComplete(t *testing.T) {
	full := testRecord()
	if !full.Complete() {
		t.Fatal("expected full record to be complete")
	}
	partial := full
	partial.TransportSessionKey = "  "
	if partial.Complete() {
		t.Error("blank field must make the record incomplete")
	}
	if RecordFromValues(full.Values()) != full {
		t.Error("Values/RecordFromValues should round trip")
	}
}
