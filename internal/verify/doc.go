// Package verify holds the domain types shared by the number verification
// pipeline: canonical identifiers, lookup outcomes, the run state record and
// the collaborator interfaces the runner depends on.
package verify
