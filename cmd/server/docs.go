// Package main ClipForge Server API
//
//	@title						ClipForge Server API
//	@version					1.0
//	@description				Asynchronous media generation: scripts, narration, image search and video assembly.
//
//	@license.name				Proprietary
//
//	@host						localhost:8080
//	@BasePath					/api
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Operator token from /admin/login. Format: "Bearer {token}"
//
//	@tag.name					Tasks
//	@tag.description			Task submission, status and cancellation
//
//	@tag.name					Videos
//	@tag.description			Playback readiness of generated videos
//
//	@tag.name					Analytics
//	@tag.description			Playback events and aggregates
//
//	@tag.name					System
//	@tag.description			Diagnostics and queue administration
//
//	@tag.name					Auth
//	@tag.description			Operator login
package main
