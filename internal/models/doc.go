// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

// Package models defines the document types shared between the store, the
// trigger engine, and the API: users, reviews, restaurants, groups,
// pathfinder tips, and restaurant submissions.
//
// Taste dimensions are open-ended string keys ("Richness", "Spiciness", ...);
// no enumeration is fixed at compile time except the dimensions the
// personality classifier inspects by name.
package models
