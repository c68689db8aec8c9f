package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Teams maps a normalized identity (email or unique name) to its team.
type Teams map[string]string

type teamsFile struct {
	Teams map[string][]string `yaml:"teams"`
}

// LoadTeams reads a YAML file of the form:
//
//	teams:
//	  web: [ana@example.com, bo@example.com]
//	  data: [cy@example.com]
//
// An identity listed under two teams is an error.
func LoadTeams(path string) (Teams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Key: envKey("teams_file"), Reason: err.Error()}
	}
	return ParseTeams(data)
}

// ParseTeams parses the YAML team mapping.
func ParseTeams(data []byte) (Teams, error) {
	var f teamsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ConfigurationError{Key: envKey("teams_file"), Reason: fmt.Sprintf("parse: %v", err)}
	}
	teams := make(Teams)
	for team, members := range f.Teams {
		for _, m := range members {
			key := strings.ToLower(strings.TrimSpace(m))
			if key == "" {
				continue
			}
			if other, ok := teams[key]; ok && other != team {
				return nil, &ConfigurationError{
					Key:    envKey("teams_file"),
					Reason: fmt.Sprintf("%s is in both %s and %s", m, other, team),
				}
			}
			teams[key] = team
		}
	}
	return teams, nil
}

// Lookup returns the team of a normalized identity key.
func (t Teams) Lookup(key string) (string, bool) {
	team, ok := t[strings.ToLower(strings.TrimSpace(key))]
	return team, ok
}
