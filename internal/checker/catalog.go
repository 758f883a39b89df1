package checker

import "time"

// BuildCatalog returns the static service catalog. Dependencies are direct
// pointers between the checkers built here, so a typo in a dependency name is
// impossible and the registry can validate membership by identity.
func BuildCatalog() []*ServiceChecker {
	cloudflare := &ServiceChecker{
		ServiceKey:     "cloudflare",
		OfficialUptime: "https://www.cloudflarestatus.com/",
		Checks: []*Check{
			{
				CheckKey:    "statuspage",
				EndpointKey: "https://www.cloudflarestatus.com/api/v2/status.json",
				Interval:    time.Minute,
				Timeout:     5 * time.Second,
				Weight:      floatPtr(0.6),
				Probe:       StatuspageStatusProbe(),
			},
			{
				CheckKey:    "dashboard",
				EndpointKey: "https://dash.cloudflare.com/",
				Interval:    time.Minute,
				Timeout:     8 * time.Second,
				Probe:       HTMLMarkerProbe("cloudflare"),
			},
		},
	}

	fastly := &ServiceChecker{
		ServiceKey:     "fastly",
		OfficialUptime: "https://www.fastlystatus.com/",
		Checks: []*Check{
			{
				CheckKey:    "statuspage",
				EndpointKey: "https://status.fastly.com/api/v2/status.json",
				Interval:    time.Minute,
				Timeout:     5 * time.Second,
				Probe:       StatuspageStatusProbe(),
			},
		},
	}

	github := &ServiceChecker{
		ServiceKey:     "github",
		OfficialUptime: "https://www.githubstatus.com/",
		Checks: []*Check{
			{
				CheckKey:    "statuspage",
				EndpointKey: "https://www.githubstatus.com/api/v2/summary.json",
				Interval:    time.Minute,
				Timeout:     5 * time.Second,
				Weight:      floatPtr(0.5),
				Probe:       StatuspageSummaryProbe(),
			},
			{
				CheckKey:    "api",
				EndpointKey: "https://api.github.com/zen",
				Interval:    time.Minute,
				Timeout:     5 * time.Second,
				Weight:      floatPtr(0.3),
				Probe:       HTMLMarkerProbe(),
			},
			{
				CheckKey:    "www",
				EndpointKey: "https://github.com/",
				Interval:    time.Minute,
				Timeout:     8 * time.Second,
				Probe:       HTMLMarkerProbe("github"),
			},
		},
		Dependencies: []*ServiceChecker{fastly},
	}

	npm := &ServiceChecker{
		ServiceKey:     "npm",
		OfficialUptime: "https://status.npmjs.org/",
		Checks: []*Check{
			{
				CheckKey:    "statuspage",
				EndpointKey: "https://status.npmjs.org/api/v2/status.json",
				Interval:    time.Minute,
				Timeout:     5 * time.Second,
				Probe:       StatuspageStatusProbe(),
			},
			{
				CheckKey:    "registry",
				EndpointKey: "https://registry.npmjs.org/express/latest",
				Interval:    time.Minute,
				Timeout:     5 * time.Second,
				Probe:       HTMLMarkerProbe("version"),
			},
		},
		Dependencies: []*ServiceChecker{cloudflare, github},
	}

	pypi := &ServiceChecker{
		ServiceKey:     "pypi",
		OfficialUptime: "https://status.python.org/",
		Checks: []*Check{
			{
				CheckKey:    "statuspage",
				EndpointKey: "https://status.python.org/api/v2/status.json",
				Interval:    time.Minute,
				Timeout:     5 * time.Second,
				Probe:       StatuspageStatusProbe(),
			},
			{
				CheckKey:    "simple-index",
				EndpointKey: "https://pypi.org/simple/requests/",
				Interval:    time.Minute,
				Timeout:     5 * time.Second,
				Probe:       HTMLMarkerProbe("requests"),
			},
		},
		Dependencies: []*ServiceChecker{fastly},
	}

	openai := &ServiceChecker{
		ServiceKey:     "openai",
		OfficialUptime: "https://status.openai.com/",
		Checks: []*Check{
			{
				CheckKey:    "statuspage",
				EndpointKey: "https://status.openai.com/api/v2/status.json",
				Interval:    time.Minute,
				Timeout:     5 * time.Second,
				Weight:      floatPtr(0.5),
				Probe:       StatuspageStatusProbe(),
			},
			{
				CheckKey:     "api",
				EndpointKey:  "https://api.openai.com/v1/models",
				Interval:     time.Minute,
				Timeout:      8 * time.Second,
				ProxySetting: "default",
				Probe:        UnauthenticatedAPIProbe(),
			},
			{
				CheckKey:    "www",
				EndpointKey: "https://openai.com/",
				Interval:    time.Minute,
				Timeout:     8 * time.Second,
				Probe:       HTMLMarkerProbe("openai"),
			},
		},
		Dependencies: []*ServiceChecker{cloudflare},
	}

	anthropic := &ServiceChecker{
		ServiceKey:     "anthropic",
		OfficialUptime: "https://status.anthropic.com/",
		Checks: []*Check{
			{
				CheckKey:    "statuspage",
				EndpointKey: "https://status.anthropic.com/api/v2/status.json",
				Interval:    time.Minute,
				Timeout:     5 * time.Second,
				Weight:      floatPtr(0.5),
				Probe:       StatuspageStatusProbe(),
			},
			{
				CheckKey:    "api",
				EndpointKey: "https://api.anthropic.com/v1/models",
				Interval:    time.Minute,
				Timeout:     8 * time.Second,
				Probe:       UnauthenticatedAPIProbe(),
			},
		},
		Dependencies: []*ServiceChecker{cloudflare},
	}

	return []*ServiceChecker{cloudflare, fastly, github, npm, pypi, openai, anthropic}
}

func floatPtr(v float64) *float64 { return &v }
