package models

import "testing"

func TestAgentStatus_Valid(t *testing.T) {
	tests := []struct {
		status AgentStatus
		want   bool
	}{
		{AgentStatusIdle, true},
		{AgentStatusWorking, true},
		{AgentStatusBlocked, true},
		{AgentStatusFailed, true},
		{AgentStatusTerminated, true},
		{AgentStatus("running"), false},
		{AgentStatus(""), false},
	}

	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.want {
			t.Errorf("AgentStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestAgentStatus_Terminal(t *testing.T) {
	if AgentStatusIdle.Terminal() || AgentStatusWorking.Terminal() || AgentStatusBlocked.Terminal() {
		t.Error("live statuses should not be terminal")
	}
	if !AgentStatusFailed.Terminal() || !AgentStatusTerminated.Terminal() {
		t.Error("failed and terminated should be terminal")
	}
}

func TestDefaultModelFor(t *testing.T) {
	tests := []struct {
		role AgentRole
		want ModelPreference
	}{
		{RolePlanner, ModelGPT51},
		{RoleCoder, ModelClaudeOpus45},
		{RoleTester, ModelGemini3Pro},
		{RoleBrowser, ModelNone},
		{RoleVerifier, ModelClaudeOpus45},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := DefaultModelFor(tt.role); got != tt.want {
				t.Errorf("DefaultModelFor(%s) = %s, want %s", tt.role, got, tt.want)
			}
			if !tt.role.Valid() {
				t.Errorf("role %s should be valid", tt.role)
			}
		})
	}
}

func TestModelPreference_Valid(t *testing.T) {
	if ModelPreference("gpt-3").Valid() {
		t.Error("unknown model should be invalid")
	}
	if !ModelNone.Valid() {
		t.Error("none should be valid")
	}
}
