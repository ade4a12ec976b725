// Package incident is the business boundary for Warden's incident response
// engine. It defines the Service (intake, scoring, classification, async
// dispatch), Dispatcher (ordered action execution with retry), Store
// interface (persistence), and domain models.
package incident
