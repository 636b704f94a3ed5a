package telegram

import (
	"testing"
)

func TestParseCommand_Simple(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantCmd string
		wantErr bool
	}{
		{"help", "/help", "help", false},
		{"uppercase", "/HELP", "help", false},
		{"with spaces", "/intake  ", "intake", false},
		{"bot mention", "/resume@liquidity_bot", "resume", false},
		{"russian alias", "/пауза", "pause", false},
		{"not a command", "reserve off-1", "", true},
		{"bare slash", "/", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseCommand(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCommand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && args.Command != tt.wantCmd {
				t.Errorf("ParseCommand() command = %v, want %v", args.Command, tt.wantCmd)
			}
		})
	}
}

func TestParseCommand_Reserve(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantOffering string
		wantErr      bool
	}{
		{"with offering", "/reserve off-1", "off-1", false},
		{"russian alias", "/резерв off-2", "off-2", false},
		{"no offering", "/reserve", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseCommand(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCommand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && args.OfferingID != tt.wantOffering {
				t.Errorf("ParseCommand() offering = %v, want %v", args.OfferingID, tt.wantOffering)
			}
		})
	}
}

func TestParseCommand_Pending(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantOffering string
		wantCount    int
		wantErr      bool
	}{
		{"no args", "/pending", "", defaultPendingCount, false},
		{"offering only", "/pending off-1", "off-1", defaultPendingCount, false},
		{"count only", "/pending 5", "", 5, false},
		{"offering and count", "/pending off-1 3", "off-1", 3, false},
		{"zero count", "/pending 0", "", 0, true},
		{"count too large", "/pending 500", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseCommand(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCommand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if args.OfferingID != tt.wantOffering {
				t.Errorf("ParseCommand() offering = %v, want %v", args.OfferingID, tt.wantOffering)
			}
			if args.Count != tt.wantCount {
				t.Errorf("ParseCommand() count = %v, want %v", args.Count, tt.wantCount)
			}
		})
	}
}

func TestParseCommand_PauseReason(t *testing.T) {
	args, err := ParseCommand("/pause reserve audit in progress")
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if args.Reason != "reserve audit in progress" {
		t.Errorf("ParseCommand() reason = %q", args.Reason)
	}

	args, err = ParseCommand("/pause")
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if args.Reason != "" {
		t.Errorf("ParseCommand() reason = %q, want empty", args.Reason)
	}
}

func TestParseCommand_Request(t *testing.T) {
	args, err := ParseCommand("/request 7c9e6679-7425-40de-944b-e07fc1f90ae7")
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if args.RequestID != "7c9e6679-7425-40de-944b-e07fc1f90ae7" {
		t.Errorf("ParseCommand() request = %q", args.RequestID)
	}

	if _, err := ParseCommand("/request"); err == nil {
		t.Error("ParseCommand() expected usage error")
	}
}
