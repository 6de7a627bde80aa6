package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func testStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := NewStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestDefaults(t *testing.T) {
	s := testStore(t, t.TempDir())
	st := s.Get()

	if !st.SmsOnHigh || !st.SmsOnLow || st.SmsOnClear {
		t.Errorf("sms policy defaults = %+v", st)
	}
	if st.DailyEmailHour != 7 || st.DailyEmailMinute != 0 {
		t.Errorf("email schedule defaults = %d:%02d", st.DailyEmailHour, st.DailyEmailMinute)
	}
	if st.ViewerIntervalHours != 6 {
		t.Errorf("ViewerIntervalHours = %d, want 6", st.ViewerIntervalHours)
	}
	if s.PinConfigured() {
		t.Error("fresh store reports a configured PIN")
	}
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	s := testStore(t, dir)

	err := s.Update(func(st *Settings) {
		st.PrimaryNumber = "+15551230001"
		st.EmailTo = "ops@example.com"
		st.Contacts = []Contact{{Name: "Pat", Phone: "+15551230002", Sites: []string{"North"}}}
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	s2 := testStore(t, dir)
	st := s2.Get()
	if st.PrimaryNumber != "+15551230001" || st.EmailTo != "ops@example.com" {
		t.Errorf("restored settings = %+v", st)
	}
	if len(st.Contacts) != 1 || st.Contacts[0].Name != "Pat" {
		t.Errorf("contacts = %+v", st.Contacts)
	}
	// Unset fields keep their defaults after a reload.
	if !st.SmsOnHigh {
		t.Error("reload lost the SmsOnHigh default")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := testStore(t, t.TempDir())
	st := s.Get()
	st.PrimaryNumber = "clobbered"
	if s.Get().PrimaryNumber == "clobbered" {
		t.Error("Get exposed internal state")
	}
}

func TestPinLifecycle(t *testing.T) {
	dir := t.TempDir()
	s := testStore(t, dir)

	if s.VerifyPin("1234") {
		t.Error("VerifyPin passed with no PIN configured")
	}

	for _, bad := range []string{"", "123", "12345", "12a4", "١٢٣٤"} {
		if err := s.SetPin(bad); err == nil {
			t.Errorf("SetPin(%q) accepted", bad)
		}
	}

	if err := s.SetPin("1234"); err != nil {
		t.Fatalf("SetPin: %v", err)
	}
	if !s.PinConfigured() {
		t.Error("PinConfigured false after SetPin")
	}
	if !s.VerifyPin("1234") {
		t.Error("correct PIN rejected")
	}
	if s.VerifyPin("4321") {
		t.Error("wrong PIN accepted")
	}

	// Only the digest lands on disk.
	data, err := os.ReadFile(filepath.Join(dir, "server_settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"1234"`) {
		t.Error("plaintext PIN persisted")
	}
	if !strings.Contains(string(data), HashPin("1234")) {
		t.Error("digest missing from settings file")
	}

	// Digest survives a restart.
	s2 := testStore(t, dir)
	if !s2.VerifyPin("1234") {
		t.Error("PIN lost across restart")
	}
}

func TestLoadFileBadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server_settings.json")
	if err := os.WriteFile(path, []byte(`{"smsOnHigh":`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(dir, zerolog.Nop()); err == nil {
		t.Fatal("NewStore accepted a corrupt settings file")
	}
}

func TestHashPinDeterministic(t *testing.T) {
	if HashPin("0000") != HashPin("0000") {
		t.Error("HashPin not deterministic")
	}
	if HashPin("0000") == HashPin("0001") {
		t.Error("distinct PINs collide")
	}
	if len(HashPin("1234")) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(HashPin("1234")))
	}
}
