package notify

import "testing"

func TestSign(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		secret  string
		want    string
		wantOK  bool
	}{
		{"rfc example", "The quick brown fox jumps over the lazy dog", "key", "97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg=", true},
		{"json body", `{"event":"redemption_submitted"}`, "whsec_test", "fQpN2TN27wi75oCvb6TWLBzW2YnFKNh4G+0QFD68n4M=", true},
		{"no secret", `{"event":"redemption_submitted"}`, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Sign([]byte(tt.payload), tt.secret)
			if ok != tt.wantOK {
				t.Fatalf("Sign() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Sign() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	body := []byte(`{"event":"redemption_completed"}`)
	sig, _ := Sign(body, "s3cret")

	if !Verify(body, "s3cret", sig) {
		t.Error("Verify() = false for matching signature")
	}
	if Verify(append(body, ' '), "s3cret", sig) {
		t.Error("Verify() = true for modified body")
	}
	if Verify(body, "", sig) {
		t.Error("Verify() = true without secret")
	}
}
