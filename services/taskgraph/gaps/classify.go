// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gaps

import (
	"strings"

	"github.com/loomworks-ai/taskloom/services/taskgraph/graph"
)

// workflowStages is the ordered sequence of workflow stages a task text
// can classify into. Stage distance drives the action_type_jump
// indicator: adjacent tasks two or more stages apart suggest missing
// intermediate work.
var workflowStages = []struct {
	name     string
	keywords []string
}{
	{"research", []string{"research", "investigate", "explore", "analyze", "study", "survey", "benchmark"}},
	{"design", []string{"design", "wireframe", "mockup", "prototype", "sketch", "architect"}},
	{"plan", []string{"plan", "schedule", "scope", "estimate", "roadmap", "prioritize", "spec"}},
	{"build", []string{"build", "implement", "develop", "code", "create", "write", "integrate", "migrate"}},
	{"test", []string{"test", "qa", "verify", "validate", "debug", "review", "audit"}},
	{"deploy", []string{"deploy", "release", "ship", "publish", "rollout", "provision"}},
	{"launch", []string{"launch", "announce", "market", "onboard", "promote", "monitor"}},
}

// skillTags maps a skill tag to the keywords that assign it. A task can
// carry any number of tags; fully disjoint tag sets between adjacent
// tasks raise the skill_jump indicator.
var skillTags = map[string][]string{
	"frontend": {"ui", "frontend", "css", "react", "layout", "component", "page"},
	"backend":  {"api", "backend", "server", "endpoint", "service", "auth"},
	"database": {"database", "sql", "schema", "migration", "query", "index"},
	"devops":   {"deploy", "docker", "kubernetes", "ci", "infrastructure", "pipeline", "terraform"},
	"design":   {"design", "figma", "mockup", "wireframe", "brand", "logo"},
	"data":     {"model", "training", "dataset", "analytics", "metrics", "dashboard"},
	"writing":  {"copy", "documentation", "docs", "blog", "content", "announcement"},
}

// stageUnknown marks a text no stage keyword matched.
const stageUnknown = -1

// tokenize splits normalized text into a word set for exact keyword
// matching; substring matching would turn "retest" into a "test" hit.
func tokenize(text string) map[string]struct{} {
	words := strings.FieldsFunc(graph.NormalizeText(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// classifyStage returns the index of the first workflow stage whose
// keywords match the text, or stageUnknown. Earlier stages win ties so
// "research the deployment options" classifies as research.
func classifyStage(text string) int {
	tokens := tokenize(text)
	for i, stage := range workflowStages {
		for _, kw := range stage.keywords {
			if _, ok := tokens[kw]; ok {
				return i
			}
		}
	}
	return stageUnknown
}

// classifySkills returns the set of skill tags whose keywords match the
// text.
func classifySkills(text string) map[string]struct{} {
	tokens := tokenize(text)
	tags := make(map[string]struct{})
	for tag, keywords := range skillTags {
		for _, kw := range keywords {
			if _, ok := tokens[kw]; ok {
				tags[tag] = struct{}{}
				break
			}
		}
	}
	return tags
}

// disjoint reports whether two non-empty tag sets share no tag.
func disjoint(a, b map[string]struct{}) bool {
	for tag := range a {
		if _, ok := b[tag]; ok {
			return false
		}
	}
	return true
}
