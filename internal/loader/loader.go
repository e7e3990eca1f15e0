// Package loader reads the simulation inputs from disk: persona datasets
// as JSON, ad and flow definitions as YAML. Loaders validate identity
// fields up front so downstream packages can trust their join keys.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"apriori/internal/logging"
	"apriori/internal/types"
)

// LoadRawPersonas reads a JSON array of raw persona records. Records
// without a uuid get one assigned so every persona is joinable.
func LoadRawPersonas(path string) ([]types.RawPersona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading personas %s: %w", path, err)
	}

	var raws []types.RawPersona
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parsing personas %s: %w", path, err)
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("personas file %s is empty", path)
	}

	seen := make(map[string]bool, len(raws))
	for i := range raws {
		if raws[i].UUID == "" {
			raws[i].UUID = uuid.NewString()
		}
		if seen[raws[i].UUID] {
			return nil, fmt.Errorf("duplicate persona uuid %s in %s", raws[i].UUID, path)
		}
		seen[raws[i].UUID] = true
	}

	logging.Hydrator("loaded %d raw personas from %s", len(raws), path)
	return raws, nil
}

// LoadPersonas reads a JSON array of already-hydrated personas.
func LoadPersonas(path string) ([]types.Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading personas %s: %w", path, err)
	}

	var personas []types.Persona
	if err := json.Unmarshal(data, &personas); err != nil {
		return nil, fmt.Errorf("parsing personas %s: %w", path, err)
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("personas file %s is empty", path)
	}
	for i, p := range personas {
		if p.UUID == "" {
			return nil, fmt.Errorf("persona %d in %s has no uuid", i, path)
		}
	}
	return personas, nil
}

// SavePersonas writes hydrated personas back to disk so a hydration pass
// can be reused across runs.
func SavePersonas(path string, personas []types.Persona) error {
	data, err := json.MarshalIndent(personas, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling personas: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing personas %s: %w", path, err)
	}
	return nil
}

type adsFile struct {
	Ads []types.Ad `yaml:"ads"`
}

// LoadAds reads ad creatives from a YAML file with a top-level `ads` list.
func LoadAds(path string) ([]types.Ad, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ads %s: %w", path, err)
	}

	var doc adsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing ads %s: %w", path, err)
	}
	if len(doc.Ads) == 0 {
		return nil, fmt.Errorf("ads file %s defines no ads", path)
	}

	seen := make(map[string]bool, len(doc.Ads))
	for i, ad := range doc.Ads {
		if ad.AdID == "" {
			return nil, fmt.Errorf("ad %d in %s has no ad_id", i, path)
		}
		if seen[ad.AdID] {
			return nil, fmt.Errorf("duplicate ad_id %s in %s", ad.AdID, path)
		}
		seen[ad.AdID] = true
		if ad.Copy == "" {
			return nil, fmt.Errorf("ad %s in %s has no copy", ad.AdID, path)
		}
	}
	return doc.Ads, nil
}

type flowsFile struct {
	Flows []types.Flow `yaml:"flows"`
}

// LoadFlows reads flow variants from a YAML file with a top-level `flows`
// list. Screens are sorted by view_number and must form the sequence 1..N.
func LoadFlows(path string) ([]types.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading flows %s: %w", path, err)
	}

	var doc flowsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing flows %s: %w", path, err)
	}
	if len(doc.Flows) == 0 {
		return nil, fmt.Errorf("flows file %s defines no flows", path)
	}

	seen := make(map[string]bool, len(doc.Flows))
	for fi := range doc.Flows {
		flow := &doc.Flows[fi]
		if flow.FlowID == "" {
			return nil, fmt.Errorf("flow %d in %s has no flow_id", fi, path)
		}
		if seen[flow.FlowID] {
			return nil, fmt.Errorf("duplicate flow_id %s in %s", flow.FlowID, path)
		}
		seen[flow.FlowID] = true
		if len(flow.Screens) == 0 {
			return nil, fmt.Errorf("flow %s in %s has no screens", flow.FlowID, path)
		}

		sort.SliceStable(flow.Screens, func(i, j int) bool {
			return flow.Screens[i].ViewNumber < flow.Screens[j].ViewNumber
		})
		for i, screen := range flow.Screens {
			if screen.ViewNumber != i+1 {
				return nil, fmt.Errorf("flow %s screen %d: view_number %d breaks the 1..N sequence",
					flow.FlowID, i, screen.ViewNumber)
			}
			if screen.ViewID == "" {
				return nil, fmt.Errorf("flow %s screen %d has no view_id", flow.FlowID, i)
			}
			switch screen.StepType {
			case types.StepMandatory, types.StepOptional:
			case "":
				flow.Screens[i].StepType = types.StepMandatory
			default:
				return nil, fmt.Errorf("flow %s screen %s: unknown step_type %q",
					flow.FlowID, screen.ViewID, screen.StepType)
			}
		}
	}
	return doc.Flows, nil
}
