// Package sources groups the candidate URL providers. Each subpackage
// implements dossier.Source; those that also gather content without a page
// fetch implement dossier.AuxiliarySource.
package sources
