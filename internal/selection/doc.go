// Package selection decides which collected test items run and in what
// order.
//
// Items carry markers: capability requirements, tiers, destructiveness,
// curated subset membership and upgrade phases. The functions here run once
// after collection and before any fixture is resolved:
//
//   - CapabilityFilter marks items whose required settings sections are not
//     configured as skipped, with a structured reason.
//   - SelectSubset narrows the run to a curated subset such as sanity and
//     puts its first_in_subset item in front.
//   - FilterTiers and FilterMarkers select by marker.
//   - Group separates items that may run in parallel from those that must
//     not.
//   - OrderUpgrade puts pre_upgrade items before post_upgrade ones and
//     UpgradeGate skips post_upgrade items whose dependency saved no data.
//
// Collection problems are reported as *ConfigurationException and abort the
// run before any item executes.
package selection
