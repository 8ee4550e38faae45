// Package refresh schedules billing refreshes: fetch, transform, publish.
// One attempt at a time; failures update health and leave the cached
// snapshot serving.
package refresh
