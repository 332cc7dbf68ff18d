package sandbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/filters"

	"github.com/tidegate/stevedore/internal/model"
)

// Label keys attached to every verification container. The labels are
// the sole persistence mechanism: clean and list rebuild their view of
// the world from them alone.
//
// The "stevedore." prefix namespaces the keys away from labels set by
// other tools on the same daemon.
const (
	// LabelPrefix is the common prefix for all stevedore labels.
	LabelPrefix = "stevedore."

	// LabelManagedBy identifies containers started by stevedore and is
	// the key used for server-side filtering.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelRunID ties a container to the publish run that started it.
	LabelRunID = LabelPrefix + "run-id"

	// LabelPackage is the crate name under verification.
	LabelPackage = LabelPrefix + "package"

	// LabelVersion is the crate version under verification.
	LabelVersion = LabelPrefix + "version"

	// LabelCreatedAt is the RFC 3339 creation timestamp, so clean can
	// report how stale a leftover container is.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the value of LabelManagedBy on every container
// stevedore starts.
const ManagedByValue = "stevedore"

// ContainerInfo describes one stevedore-managed container. ID, Name,
// and Status come from the daemon; the remaining fields are decoded
// from labels.
type ContainerInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	RunID     string    `json:"runId"`
	Package   string    `json:"package"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

// BuildLabels constructs the label map for a verification container.
func BuildLabels(runID string, pkg *model.Package, now time.Time) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelRunID:     runID,
		LabelPackage:   pkg.Name,
		LabelVersion:   pkg.Version,
		LabelCreatedAt: now.UTC().Format(time.RFC3339),
	}
}

// ParseLabels decodes the stevedore labels of a container into a
// ContainerInfo. Only label-derived fields are filled in; ID, Name,
// and Status belong to the daemon's view.
//
// All keys are required. The error lists every missing key at once so
// a mangled container can be diagnosed from a single message.
func ParseLabels(labels map[string]string) (*ContainerInfo, error) {
	requiredKeys := []string{
		LabelManagedBy,
		LabelRunID,
		LabelPackage,
		LabelVersion,
		LabelCreatedAt,
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return nil, fmt.Errorf("label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue)
	}

	createdAt, err := time.Parse(time.RFC3339, labels[LabelCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelCreatedAt, err)
	}

	return &ContainerInfo{
		RunID:     labels[LabelRunID],
		Package:   labels[LabelPackage],
		Version:   labels[LabelVersion],
		CreatedAt: createdAt,
	}, nil
}

// managedFilterArgs returns the server-side filter matching every
// container stevedore manages.
func managedFilterArgs() filters.Args {
	return filters.NewArgs(
		filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
	)
}
