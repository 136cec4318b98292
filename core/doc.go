// Package core contains the canonical client domain contracts, entities, and
// coordination logic: the credential record and its stores, the expiry
// policy, and the single-flight refresh coordinator. Transport and storage
// adapters must depend on this package; core must not depend on them.
package core
