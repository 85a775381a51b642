// Package config binds the admission and planner knobs (exec.queue.*,
// planner.*) plus this module's own RPC/data-directory settings to cobra
// flags read directly off the command rather than through a generated
// config file parser.
package config
