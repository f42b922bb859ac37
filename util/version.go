package util

// Version is reported to the simulation manager when it asks for it.
const Version = "1.2.0"
