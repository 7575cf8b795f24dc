// Package config builds pipelines from YAML definitions and loads runtime settings.
//
// A definition file holds named pipelines. Each stage is either a leaf with a
// request config or a nested reference to another pipeline in the same file:
//
//	pipelines:
//	  profile:
//	    base_url: https://api.example.com
//	    stages:
//	      - /me
//	      - name: settings
//	        config:
//	          url: "/u/{{.id}}/settings"
//	  page:
//	    base_url: https://api.example.com
//	    timeout: 10s
//	    stages:
//	      - name: profile
//	        request: profile
//	        pick: theme
//	      - name: render
//	        when: "{{if .}}true{{end}}"
//	        config:
//	          method: POST
//	          url: /render
//	          body: {theme: "{{.}}"}
//
// A stage written as a plain string is a GET of that URL. String values containing
// "{{" are text/template templates executed against the previous stage's output,
// which makes the stage's config computed at run time. mapper and when name entries
// in a Registry; a when value containing "{{" is a template that must render "true"
// for the stage to run. Setting both or neither of config and request fails the
// build with pipeline.ErrUnknownStageType.
//
// Settings are loaded with LoadSettings from an optional YAML file overlaid with
// REQPIPE_* environment variables.
package config
