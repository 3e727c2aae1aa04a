package domain

import "time"

// NoiseLabel is the cluster label given to points outside every dense group
const NoiseLabel = -1

// IncidentText is one batch item handed to the clusterer. ID and
// ResolutionNotes are optional.
type IncidentText struct {
	ID              string
	Text            string
	ResolutionNotes string
	Category        Category
	Priority        Priority
	CreatedAt       time.Time
	ResolvedAt      time.Time
}

// ClusterAssignment maps a batch index to its cluster label
type ClusterAssignment struct {
	Index int
	Label int
}

// CategoryCount is the number of cluster members in a category
type CategoryCount struct {
	Category Category
	Count    int
}

// ClusterSummary describes one non-noise cluster of a batch
type ClusterSummary struct {
	Label               int
	Size                int
	Keywords            []string
	RepresentativeIndex int
	// RepresentativeID is the ID of the representative item, if it has one
	RepresentativeID string
	// ResolutionPatterns ranks the terms of the members' resolution notes
	ResolutionPatterns []string
	// AveragePriority is nil when no member carries a numeric priority
	AveragePriority      *float64
	Categories           []CategoryCount
	PriorityDistribution map[string]int
	// AvgResolutionHours is nil when no member has both timestamps
	AvgResolutionHours *float64
}

// ClusterResult is the output of one clustering pass
type ClusterResult struct {
	Assignments []ClusterAssignment
	Summaries   []ClusterSummary
}

// NoiseCount returns how many items were labeled noise
func (r *ClusterResult) NoiseCount() int {
	n := 0
	for _, a := range r.Assignments {
		if a.Label == NoiseLabel {
			n++
		}
	}
	return n
}

// Groups returns the member indexes of each cluster, keyed by label
func (r *ClusterResult) Groups() map[int][]int {
	groups := make(map[int][]int)
	for _, a := range r.Assignments {
		if a.Label == NoiseLabel {
			continue
		}
		groups[a.Label] = append(groups[a.Label], a.Index)
	}
	return groups
}
