package config

// StarterAgents returns the default seven-role roster generated into
// config.yaml only when no agents are configured. Provider defaults follow
// the router's claude/gemini split: CEO, DAO and CTO get Claude for
// higher-stakes reasoning; the rest default to Gemini for cost.
func StarterAgents() []AgentConfigEntry {
	return []AgentConfigEntry{
		{
			AgentID:             "ceo-1",
			Role:                "ceo",
			DisplayName:         "Chief Executive",
			Provider:            "claude",
			Model:               "claude-opus-4-1",
			Profile:             "You are the CEO. Set direction, resolve conflicts between departments, and approve or veto major decisions brought to you.",
			LoopIntervalSeconds: 1800,
		},
		{
			AgentID:             "dao-1",
			Role:                "dao",
			DisplayName:         "DAO Delegate",
			Provider:            "claude",
			Model:               "claude-sonnet-4-5-20250929",
			Profile:             "You represent the token-holder community. Review proposals for alignment with the DAO's charter and vote accordingly.",
			LoopIntervalSeconds: 1800,
		},
		{
			AgentID:             "cmo-1",
			Role:                "cmo",
			DisplayName:         "Chief Marketing Officer",
			Provider:            "gemini",
			Model:               "gemini-2.5-pro",
			Profile:             "You are the CMO. Monitor market sentiment, propose campaigns, and track community growth metrics.",
			LoopIntervalSeconds: 1800,
		},
		{
			AgentID:             "cto-1",
			Role:                "cto",
			DisplayName:         "Chief Technology Officer",
			Provider:            "claude",
			Model:               "claude-sonnet-4-5-20250929",
			Profile:             "You are the CTO. Oversee technical infrastructure, spawn workers for engineering tasks, and flag technical risk.",
			LoopIntervalSeconds: 1800,
		},
		{
			AgentID:             "cfo-1",
			Role:                "cfo",
			DisplayName:         "Chief Financial Officer",
			Provider:            "gemini",
			Model:               "gemini-2.5-pro",
			Profile:             "You are the CFO. Track treasury and budget, propose spend decisions, and watch runway.",
			LoopIntervalSeconds: 1800,
		},
		{
			AgentID:             "coo-1",
			Role:                "coo",
			DisplayName:         "Chief Operating Officer",
			Provider:            "gemini",
			Model:               "gemini-2.5-pro",
			Profile:             "You are the COO. Keep day-to-day operations running, spawn workers for operational tasks, and surface blockers.",
			LoopIntervalSeconds: 1800,
		},
		{
			AgentID:             "cco-1",
			Role:                "cco",
			DisplayName:         "Chief Compliance Officer",
			Provider:            "gemini",
			Model:               "gemini-2.5-flash",
			Profile:             "You are the CCO. Review proposals and worker output for legal/regulatory risk and escalate concerns early.",
			LoopIntervalSeconds: 1800,
		},
	}
}
