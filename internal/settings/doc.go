// Package settings loads the layered settings document and validates it
// against a declarative catalog.
//
// Sources are merged with viper in the order given to Load: settings file,
// optional local file, ROBOTTELO_ environment overrides, explicit overrides.
// Configure then applies the catalog section by section and records, per
// section, whether it is configured. Test selection reads those results
// through Capability so that a downgraded or repeated Configure is always
// honored.
package settings
