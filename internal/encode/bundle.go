package encode

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/audiolibrelab/vizcapture/internal/canvas"
	"github.com/audiolibrelab/vizcapture/internal/config"
	"github.com/audiolibrelab/vizcapture/internal/media"
)

var bundleTemplate = template.Must(template.New("bundle").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Subject}} ({{.FrameCount}} frames)</title>
<style>
body { font-family: system-ui, sans-serif; background: #f3f4f6; margin: 0; padding: 24px; color: #111827; }
h1 { font-size: 18px; margin: 0 0 12px; }
.stage { background: #fff; border: 1px solid #d1d5db; display: inline-block; padding: 8px; }
.stage img { display: none; max-width: 100%; }
.stage img.current { display: block; }
.controls { margin-top: 12px; display: flex; gap: 8px; align-items: center; }
.counter { min-width: 110px; font-variant-numeric: tabular-nums; }
</style>
</head>
<body>
<h1>{{.Subject}}</h1>
<div class="stage">
{{- range $i, $f := .Frames}}
<img src="{{$f.Src}}" alt="frame {{$f.Number}}" data-offset="{{$f.OffsetMs}}"{{if eq $i 0}} class="current"{{end}}>
{{- end}}
</div>
<div class="controls">
<button id="prev" title="Previous frame">&#9664;</button>
<button id="play" title="Play or pause">Pause</button>
<button id="next" title="Next frame">&#9654;</button>
<label>Speed
<select id="speed">
<option value="0.25">0.25x</option>
<option value="0.5">0.5x</option>
<option value="1" selected>1x</option>
<option value="2">2x</option>
<option value="4">4x</option>
</select>
</label>
<span class="counter" id="counter">1 / {{.FrameCount}}</span>
<span id="offset">+0 ms</span>
</div>
<script>
(function () {
  var frames = document.querySelectorAll('.stage img');
  var frameMs = {{.FrameDurationMs}};
  var current = 0, playing = true, timer = null;
  var counter = document.getElementById('counter');
  var offset = document.getElementById('offset');
  var play = document.getElementById('play');
  var speed = document.getElementById('speed');

  function show(i) {
    frames[current].classList.remove('current');
    current = (i + frames.length) % frames.length;
    frames[current].classList.add('current');
    counter.textContent = (current + 1) + ' / ' + frames.length;
    offset.textContent = '+' + frames[current].dataset.offset + ' ms';
  }
  function schedule() {
    clearInterval(timer);
    if (playing && frames.length > 1) {
      timer = setInterval(function () { show(current + 1); }, frameMs / parseFloat(speed.value));
    }
  }
  document.getElementById('prev').onclick = function () { show(current - 1); };
  document.getElementById('next').onclick = function () { show(current + 1); };
  play.onclick = function () {
    playing = !playing;
    play.textContent = playing ? 'Pause' : 'Play';
    schedule();
  };
  speed.onchange = schedule;
  schedule();
})();
</script>
</body>
</html>
`))

type bundleFrame struct {
	Src      template.URL
	Number   int
	OffsetMs int64
}

// BundleStrategy writes a self-contained HTML page that replays the frames
// with a minimal player, plus a PNG preview of the first frame.
type BundleStrategy struct {
	frameDuration time.Duration
}

func NewBundleStrategy(frameDuration time.Duration) *BundleStrategy {
	if frameDuration <= 0 {
		frameDuration = time.Duration(config.Default().Encoder.FrameDurationMs) * time.Millisecond
	}
	return &BundleStrategy{frameDuration: frameDuration}
}

func (s *BundleStrategy) Name() string { return config.StrategyBundle }

func (s *BundleStrategy) Attempt(ctx context.Context, frames []media.Frame, opts Options) (media.ExportResult, error) {
	if len(frames) == 0 {
		return media.ExportResult{}, media.ErrEmptyBuffer
	}

	quality := opts.Quality
	if quality <= 0 || quality > 1 {
		quality = media.DefaultQuality
	}

	first := frames[0].TimestampMs
	encoded, err := iter.MapErr(frames, func(f *media.Frame) (bundleFrame, error) {
		if f.Image == nil {
			return bundleFrame{}, fmt.Errorf("frame %d has no image", f.Index)
		}
		data, err := canvas.EncodeJPEG(f.Image, quality)
		if err != nil {
			return bundleFrame{}, fmt.Errorf("frame %d: %w", f.Index, err)
		}
		return bundleFrame{
			Src:      template.URL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)),
			Number:   f.Index + 1,
			OffsetMs: f.TimestampMs - first,
		}, nil
	})
	if err != nil {
		return media.ExportResult{}, err
	}

	var page bytes.Buffer
	err = bundleTemplate.Execute(&page, struct {
		Subject         string
		FrameCount      int
		FrameDurationMs int64
		Frames          []bundleFrame
	}{
		Subject:         opts.Subject,
		FrameCount:      len(frames),
		FrameDurationMs: s.frameDuration.Milliseconds(),
		Frames:          encoded,
	})
	if err != nil {
		return media.ExportResult{}, fmt.Errorf("rendering bundle: %w", err)
	}

	preview, err := canvas.EncodePNG(frames[0].Image)
	if err != nil {
		return media.ExportResult{}, fmt.Errorf("encoding preview: %w", err)
	}

	return media.ExportResult{
		Artifacts: []media.Artifact{
			{
				Name:     opts.ArtifactName("html"),
				MIMEType: "text/html",
				Data:     page.Bytes(),
				Primary:  true,
			},
			{
				Name:     opts.Stem() + "_preview.png",
				MIMEType: "image/png",
				Data:     preview,
			},
		},
	}, nil
}
