package config

// Built-in default manifests per host family, used when the driver
// supplies neither a manifest file nor an embedded document.

func defaultOptions() map[string]string {
	return map[string]string{
		"skip_locked_files": "true",
		"generate_bodyfile": "true",
	}
}

func must(kind string) ArtifactKind {
	parsed, err := ParseArtifactKind(kind)
	if err != nil {
		panic(err)
	}
	return parsed
}

// DefaultManifest returns the stock triage manifest for a family.
func DefaultManifest(family Family) *Manifest {
	switch family {
	case FAMILY_WINDOWS:
		return defaultWindows()
	case FAMILY_DARWIN:
		return defaultDarwin()
	default:
		return defaultLinux()
	}
}

func defaultWindows() *Manifest {
	return &Manifest{
		Version:       "1.0",
		Description:   "Default Windows triage collection",
		GlobalOptions: defaultOptions(),
		Artifacts: []ArtifactDefinition{
			{
				Name:            "MFT",
				Kind:            must("MFT"),
				SourcePath:      `C:\$MFT`,
				DestinationName: "MFT",
				Required:        true,
			},
			{
				Name:            "SYSTEM",
				Kind:            must("Registry"),
				SourcePath:      `C:\Windows\System32\config\SYSTEM`,
				DestinationName: "SYSTEM",
				Required:        true,
			},
			{
				Name:            "SOFTWARE",
				Kind:            must("Registry"),
				SourcePath:      `C:\Windows\System32\config\SOFTWARE`,
				DestinationName: "SOFTWARE",
				Required:        true,
			},
			{
				Name:            "SECURITY",
				Kind:            must("Registry"),
				SourcePath:      `C:\Windows\System32\config\SECURITY`,
				DestinationName: "SECURITY",
			},
			{
				Name:            "SAM",
				Kind:            must("Registry"),
				SourcePath:      `C:\Windows\System32\config\SAM`,
				DestinationName: "SAM",
			},
			{
				Name:            "NTUSER.DAT",
				Kind:            must("Registry"),
				SourcePath:      `%USERPROFILE%\NTUSER.DAT`,
				DestinationName: "NTUSER.DAT",
			},
			{
				Name:            "EventLogs",
				Kind:            must("EventLog"),
				SourcePath:      `C:\Windows\System32\winevt\Logs`,
				DestinationName: "EventLogs",
				Required:        true,
				Regex: &RegexConfig{
					Enabled:        true,
					IncludePattern: `.*\.evtx$`,
				},
			},
			{
				Name:            "Prefetch",
				Kind:            must("Prefetch"),
				SourcePath:      `C:\Windows\Prefetch`,
				DestinationName: "Prefetch",
				Regex: &RegexConfig{
					Enabled:        true,
					IncludePattern: `.*\.pf$`,
				},
			},
		},
	}
}

func defaultLinux() *Manifest {
	return &Manifest{
		Version:       "1.0",
		Description:   "Default Linux triage collection",
		GlobalOptions: defaultOptions(),
		Artifacts: []ArtifactDefinition{
			{
				Name:            "syslog",
				Kind:            must("SysLogs"),
				SourcePath:      "/var/log/syslog",
				DestinationName: "syslog",
			},
			{
				Name:            "auth.log",
				Kind:            must("SysLogs"),
				SourcePath:      "/var/log/auth.log",
				DestinationName: "auth.log",
			},
			{
				Name:            "audit",
				Kind:            must("Audit"),
				SourcePath:      "/var/log/audit",
				DestinationName: "audit",
				Regex: &RegexConfig{
					Enabled:        true,
					Recursive:      true,
					IncludePattern: `audit.*\.log.*`,
				},
			},
			{
				Name:            "journal",
				Kind:            must("Journal"),
				SourcePath:      "/var/log/journal",
				DestinationName: "journal",
			},
			{
				Name:            "cron",
				Kind:            must("Cron"),
				SourcePath:      "/etc/crontab",
				DestinationName: "crontab",
			},
			{
				Name:            "bash-history",
				Kind:            must("Bash"),
				SourcePath:      "$HOME/.bash_history",
				DestinationName: "bash_history",
			},
			{
				Name:            "systemd-units",
				Kind:            must("Systemd"),
				SourcePath:      "/etc/systemd/system",
				DestinationName: "systemd",
			},
			{
				Name:            "passwd",
				Kind:            must("SystemInfo"),
				SourcePath:      "/etc/passwd",
				DestinationName: "passwd",
				Required:        true,
			},
		},
	}
}

func defaultDarwin() *Manifest {
	return &Manifest{
		Version:       "1.0",
		Description:   "Default macOS triage collection",
		GlobalOptions: defaultOptions(),
		Artifacts: []ArtifactDefinition{
			{
				Name:            "unified-logs",
				Kind:            must("UnifiedLogs"),
				SourcePath:      "/var/db/diagnostics",
				DestinationName: "unified_logs",
			},
			{
				Name:            "system-log",
				Kind:            must("Logs"),
				SourcePath:      "/var/log/system.log",
				DestinationName: "system.log",
			},
			{
				Name:            "fsevents",
				Kind:            must("FSEvents"),
				SourcePath:      "/.fseventsd",
				DestinationName: "fseventsd",
			},
			{
				Name:            "quarantine",
				Kind:            must("Quarantine"),
				SourcePath:      "$HOME/Library/Preferences/com.apple.LaunchServices.QuarantineEventsV2",
				DestinationName: "QuarantineEventsV2",
			},
			{
				Name:            "launch-agents",
				Kind:            must("LaunchAgents"),
				SourcePath:      "/Library/LaunchAgents",
				DestinationName: "LaunchAgents",
			},
			{
				Name:            "launch-daemons",
				Kind:            must("LaunchDaemons"),
				SourcePath:      "/Library/LaunchDaemons",
				DestinationName: "LaunchDaemons",
			},
		},
	}
}
