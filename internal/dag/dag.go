// Package dag defines the analysis stage graph as data: stage identifiers,
// dependency edges, criticality, and progress weights. The orchestrator
// consumes the graph; it never hard-codes stage order.
package dag

import (
	"fmt"
	"sort"
)

// Kind groups stages by the artifact family they produce.
type Kind string

const (
	KindAnalysis  Kind = "analysis"
	KindAsset     Kind = "asset"
	KindMarketing Kind = "marketing"
	KindFormat    Kind = "format"
)

// Criticality decides whether a stage failure fails the whole report.
type Criticality string

const (
	Required Criticality = "required"
	Optional Criticality = "optional"
)

// Stage is one LLM-backed unit of work. All fields are compile-time data.
type Stage struct {
	ID              string
	DependsOn       []string
	Kind            Kind
	Criticality     Criticality
	MaxAttempts     int
	CostCenter      string
	Weight          float64
	Temperature     float64
	MaxOutputTokens int
}

// Graph is a versioned set of stages with dependency edges.
type Graph struct {
	Version int
	stages  []Stage
	byID    map[string]*Stage
}

// Stage IDs, referenced by prompts, schemas, and tests.
const (
	StageDevelopmental     = "developmental"
	StageLineEditing       = "lineEditing"
	StageCopyEditing       = "copyEditing"
	StageBookDescription   = "bookDescription"
	StageKeywords          = "keywords"
	StageCategories        = "categories"
	StageAuthorBio         = "authorBio"
	StageBackMatter        = "backMatter"
	StageCoverBrief        = "coverBrief"
	StageSeriesDescription = "seriesDescription"
	StageMarketAnalysis    = "marketAnalysis"
	StageSocialMedia       = "socialMedia"
	StageAudiobookNarration     = "audiobookNarration"
	StageAudiobookPronunciation = "audiobookPronunciation"
	StageAudiobookTiming        = "audiobookTiming"
	StageAudiobookSamples       = "audiobookSamples"
	StageAudiobookACX           = "audiobookACX"
	StageEPUB              = "epub"
	StagePDF               = "pdf"
)

// V1 returns version 1 of the manuscript analysis graph.
//
// The three analysis stages form the required critical path and carry 75
// progress points. Asset and formatting stages carry the 75-95 band,
// marketing and the audiobook suite the final five points.
func V1() *Graph {
	stages := []Stage{
		{ID: StageDevelopmental, Kind: KindAnalysis, Criticality: Required, MaxAttempts: 3, CostCenter: "analysis", Weight: 30, Temperature: 0.3, MaxOutputTokens: 8000},
		{ID: StageLineEditing, DependsOn: []string{StageDevelopmental}, Kind: KindAnalysis, Criticality: Required, MaxAttempts: 3, CostCenter: "analysis", Weight: 25, Temperature: 0.2, MaxOutputTokens: 8000},
		{ID: StageCopyEditing, DependsOn: []string{StageLineEditing}, Kind: KindAnalysis, Criticality: Required, MaxAttempts: 3, CostCenter: "analysis", Weight: 20, Temperature: 0.1, MaxOutputTokens: 8000},

		{ID: StageBookDescription, DependsOn: []string{StageDevelopmental}, Kind: KindAsset, Criticality: Optional, MaxAttempts: 3, CostCenter: "marketing", Weight: 3, Temperature: 0.7, MaxOutputTokens: 2000},
		{ID: StageKeywords, DependsOn: []string{StageDevelopmental}, Kind: KindAsset, Criticality: Optional, MaxAttempts: 3, CostCenter: "marketing", Weight: 2, Temperature: 0.5, MaxOutputTokens: 1000},
		{ID: StageCategories, DependsOn: []string{StageDevelopmental}, Kind: KindAsset, Criticality: Optional, MaxAttempts: 3, CostCenter: "marketing", Weight: 2, Temperature: 0.2, MaxOutputTokens: 1000},
		{ID: StageAuthorBio, DependsOn: []string{StageDevelopmental}, Kind: KindAsset, Criticality: Optional, MaxAttempts: 3, CostCenter: "marketing", Weight: 2, Temperature: 0.7, MaxOutputTokens: 1500},
		{ID: StageBackMatter, DependsOn: []string{StageDevelopmental}, Kind: KindAsset, Criticality: Optional, MaxAttempts: 3, CostCenter: "marketing", Weight: 2, Temperature: 0.6, MaxOutputTokens: 2000},
		{ID: StageCoverBrief, DependsOn: []string{StageDevelopmental}, Kind: KindAsset, Criticality: Optional, MaxAttempts: 3, CostCenter: "marketing", Weight: 3, Temperature: 0.7, MaxOutputTokens: 2500},
		{ID: StageSeriesDescription, DependsOn: []string{StageDevelopmental}, Kind: KindAsset, Criticality: Optional, MaxAttempts: 3, CostCenter: "marketing", Weight: 2, Temperature: 0.7, MaxOutputTokens: 2000},

		// Formatting depends only on the manuscript and its metadata.
		{ID: StageEPUB, Kind: KindFormat, Criticality: Optional, MaxAttempts: 3, CostCenter: "formatting", Weight: 2, Temperature: 0.1, MaxOutputTokens: 4000},
		{ID: StagePDF, Kind: KindFormat, Criticality: Optional, MaxAttempts: 3, CostCenter: "formatting", Weight: 2, Temperature: 0.1, MaxOutputTokens: 4000},

		{ID: StageMarketAnalysis, DependsOn: []string{StageBookDescription, StageKeywords, StageCategories}, Kind: KindMarketing, Criticality: Optional, MaxAttempts: 3, CostCenter: "marketing", Weight: 1, Temperature: 0.5, MaxOutputTokens: 3000},
		{ID: StageSocialMedia, DependsOn: []string{StageBookDescription, StageKeywords}, Kind: KindMarketing, Criticality: Optional, MaxAttempts: 3, CostCenter: "marketing", Weight: 1, Temperature: 0.8, MaxOutputTokens: 2500},

		{ID: StageAudiobookNarration, DependsOn: []string{StageBookDescription}, Kind: KindMarketing, Criticality: Optional, MaxAttempts: 3, CostCenter: "audiobook", Weight: 0.6, Temperature: 0.5, MaxOutputTokens: 2500},
		{ID: StageAudiobookPronunciation, DependsOn: []string{StageAudiobookNarration}, Kind: KindMarketing, Criticality: Optional, MaxAttempts: 3, CostCenter: "audiobook", Weight: 0.6, Temperature: 0.2, MaxOutputTokens: 2000},
		{ID: StageAudiobookTiming, DependsOn: []string{StageAudiobookNarration}, Kind: KindMarketing, Criticality: Optional, MaxAttempts: 3, CostCenter: "audiobook", Weight: 0.6, Temperature: 0.2, MaxOutputTokens: 1500},
		{ID: StageAudiobookSamples, DependsOn: []string{StageAudiobookNarration}, Kind: KindMarketing, Criticality: Optional, MaxAttempts: 3, CostCenter: "audiobook", Weight: 0.6, Temperature: 0.6, MaxOutputTokens: 2000},
		{ID: StageAudiobookACX, DependsOn: []string{StageAudiobookNarration}, Kind: KindMarketing, Criticality: Optional, MaxAttempts: 3, CostCenter: "audiobook", Weight: 0.6, Temperature: 0.2, MaxOutputTokens: 1500},
	}
	graph, err := New(1, stages)
	if err != nil {
		panic(fmt.Sprintf("dag v1 invalid: %v", err))
	}
	return graph
}

// ForVersion returns the graph for a configured version number.
func ForVersion(version int) (*Graph, error) {
	switch version {
	case 1:
		return V1(), nil
	default:
		return nil, fmt.Errorf("unknown dag version %d", version)
	}
}

// New builds and validates a graph.
func New(version int, stages []Stage) (*Graph, error) {
	graph := &Graph{
		Version: version,
		stages:  stages,
		byID:    make(map[string]*Stage, len(stages)),
	}
	for i := range graph.stages {
		stage := &graph.stages[i]
		if stage.ID == "" {
			return nil, fmt.Errorf("stage %d has empty id", i)
		}
		if _, exists := graph.byID[stage.ID]; exists {
			return nil, fmt.Errorf("duplicate stage id %q", stage.ID)
		}
		if stage.MaxAttempts < 1 {
			return nil, fmt.Errorf("stage %q: max attempts must be at least 1", stage.ID)
		}
		if stage.Weight < 0 {
			return nil, fmt.Errorf("stage %q: negative weight", stage.ID)
		}
		graph.byID[stage.ID] = stage
	}
	for _, stage := range graph.stages {
		for _, dep := range stage.DependsOn {
			parent, ok := graph.byID[dep]
			if !ok {
				return nil, fmt.Errorf("stage %q depends on unknown stage %q", stage.ID, dep)
			}
			if stage.Criticality == Required && parent.Criticality != Required {
				return nil, fmt.Errorf("required stage %q depends on optional stage %q", stage.ID, dep)
			}
		}
	}
	if err := graph.checkAcyclic(); err != nil {
		return nil, err
	}
	return graph, nil
}

// Stage returns the definition for id.
func (g *Graph) Stage(id string) (Stage, bool) {
	stage, ok := g.byID[id]
	if !ok {
		return Stage{}, false
	}
	return *stage, true
}

// Stages returns all stage definitions in declaration order.
func (g *Graph) Stages() []Stage {
	cp := make([]Stage, len(g.stages))
	copy(cp, g.stages)
	return cp
}

// StageIDs returns all stage identifiers in declaration order.
func (g *Graph) StageIDs() []string {
	ids := make([]string, 0, len(g.stages))
	for _, stage := range g.stages {
		ids = append(ids, stage.ID)
	}
	return ids
}

// RequiredIDs returns the identifiers of every required stage.
func (g *Graph) RequiredIDs() []string {
	var ids []string
	for _, stage := range g.stages {
		if stage.Criticality == Required {
			ids = append(ids, stage.ID)
		}
	}
	return ids
}

// Dependents returns the stages that list id as a direct parent, sorted.
func (g *Graph) Dependents(id string) []string {
	var out []string
	for _, stage := range g.stages {
		for _, dep := range stage.DependsOn {
			if dep == id {
				out = append(out, stage.ID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// TotalWeight is the progress denominator.
func (g *Graph) TotalWeight() float64 {
	total := 0.0
	for _, stage := range g.stages {
		total += stage.Weight
	}
	return total
}

func (g *Graph) checkAcyclic() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.stages))
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("dependency cycle through stage %q", id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, dep := range g.byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for _, stage := range g.stages {
		if err := visit(stage.ID); err != nil {
			return err
		}
	}
	return nil
}
