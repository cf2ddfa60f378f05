// Package types defines the shared data model of the orchestrator: workflow
// and task definitions, execution records, agent instances, collaboration
// sessions, monitoring records, and the unified error taxonomy.
//
// The package has no dependencies on other orchestra packages so every
// component can exchange these values without import cycles.
package types
