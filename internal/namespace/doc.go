// Package namespace owns the versioned cache namespace of the agent.
//
// A Manager is the single accessor for the current namespace. Install
// precaches the app shell into it and Activate evicts every other namespace
// found in storage, so that after activation exactly one namespace remains.
package namespace
