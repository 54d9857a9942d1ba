// Package stores manages store records and store-manager assignments.
//
// Reads and updates are authorized against the loaded row: region-scoped
// roles are judged on the store's region, everyone else on the store id.
// Deletes are soft and limited to super_admin and general_manager. Creation
// goes through a Creator so the store row and its manager assignments are
// created or rolled back together.
package stores
