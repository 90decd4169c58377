package chunker

// Sentences exposes sentence splitting to the black-box tests.
var Sentences = sentences
