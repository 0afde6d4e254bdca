// Package gemini renders virtual staging images with Google's Gemini image
// generation models. Renderer implements processing.Renderer.
package gemini
