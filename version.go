package main

var (
	versionGit    = "development"
	versionNumber = "1.0.0"
	versionString = "maillite " + versionNumber + " (" + versionGit + ")\n"
)
