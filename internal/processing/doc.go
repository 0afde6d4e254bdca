// Package processing holds the image handlers that workers run for each task
// type: denoise (upscale and smooth) and virtual staging (select furniture
// within a budget and render it into the room).
package processing
