package manifest

import (
	"sort"
	"strings"
)

// ListDefinition describes a well-known filter list that can be enabled by
// label alone.
type ListDefinition struct {
	Label       string `yaml:"label"`
	URL         string `yaml:"url"`
	Format      string `yaml:"format"`
	Description string `yaml:"description"`
}

// ListConfig enables a catalog list or adds an ad-hoc one from configuration.
type ListConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// Catalog lists the built-in filter lists available for selection.
var Catalog = map[string]ListDefinition{
	"stevenblack": {
		Label:       "stevenblack",
		URL:         "https://raw.githubusercontent.com/StevenBlack/hosts/master/hosts",
		Format:      "hosts",
		Description: "Unified hosts file with ads and malware.",
	},
	"adaway": {
		Label:       "adaway",
		URL:         "https://adaway.org/hosts.txt",
		Format:      "hosts",
		Description: "AdAway default blocklist.",
	},
	"peterlowe": {
		Label:       "peterlowe",
		URL:         "https://pgl.yoyo.org/adservers/serverlist.php?hostformat=hosts&showintro=0&mimetype=plaintext",
		Format:      "hosts",
		Description: "Peter Lowe's ad and tracking server list.",
	},
	"easylist": {
		Label:       "easylist",
		URL:         "https://easylist.to/easylist/easylist.txt",
		Format:      "adblock",
		Description: "Primary Adblock Plus filter list.",
	},
	"easyprivacy": {
		Label:       "easyprivacy",
		URL:         "https://easylist.to/easylist/easyprivacy.txt",
		Format:      "adblock",
		Description: "Tracking protection filter list.",
	},
	"adguard_dns": {
		Label:       "adguard_dns",
		URL:         "https://adguardteam.github.io/AdGuardSDNSFilter/Filters/filter.txt",
		Format:      "adblock",
		Description: "AdGuard DNS filter.",
	},
	"firebog_easyprivacy": {
		Label:       "firebog_easyprivacy",
		URL:         "https://v.firebog.net/hosts/Easyprivacy.txt",
		Format:      "domains",
		Description: "EasyPrivacy converted to plain domains.",
	},
	"blocklistproject_malware": {
		Label:       "blocklistproject_malware",
		URL:         "https://blocklistproject.github.io/Lists/malware.txt",
		Format:      "hosts",
		Description: "Hosts associated with malware distribution.",
	},
	"blocklistproject_phishing": {
		Label:       "blocklistproject_phishing",
		URL:         "https://blocklistproject.github.io/Lists/phishing.txt",
		Format:      "hosts",
		Description: "Hosts associated with phishing campaigns.",
	},
}

// BuildSources converts list configuration into sources. Entries without a
// URL fall back to the catalog; unknown labels without a URL are dropped.
// The result is sorted by label.
func BuildSources(catalog map[string]ListDefinition, configs map[string]ListConfig) []Source {
	sources := make([]Source, 0, len(configs))

	for label, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		location := strings.TrimSpace(cfg.URL)
		if location == "" {
			if def, ok := catalog[label]; ok {
				location = def.URL
			}
		}
		if location == "" {
			continue
		}
		sources = append(sources, Source{URL: location, Label: label})
	}

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Label < sources[j].Label
	})
	return sources
}
