/*
Package types defines the core data structures shared by every component of
the Foreman query-coordination core: query and fragment identifiers, the
planned work unit a query is broken into, the per-query state machine's
vocabulary, and the fragment status reports that drive it.

These types carry no behavior beyond small accessors and string formatting;
the components in pkg/foreman, pkg/dispatch, pkg/querymanager and
pkg/eventbus give them meaning.
*/
package types
