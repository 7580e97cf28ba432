package server

// indexHTML is the built-in control page. It drives the JSON API and polls
// the status endpoint once a second.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>VizCapture</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 20px; background: #f5f5f5; color: #222; }
        .container { max-width: 860px; margin: 0 auto; }
        .panel { background: white; border-radius: 8px; padding: 20px; margin-bottom: 20px; box-shadow: 0 2px 8px rgba(0,0,0,0.08); }
        h1 { margin-top: 0; }
        label { display: inline-block; margin-right: 12px; font-size: 14px; }
        input, select { padding: 4px 6px; margin-left: 4px; }
        button { padding: 10px 18px; border: none; border-radius: 6px; font-size: 15px; cursor: pointer; margin-right: 8px; }
        .start { background: #ef4444; color: white; }
        .stop { background: #374151; color: white; }
        .capture { background: #3b82f6; color: white; }
        .frame { background: #22c55e; color: white; }
        button:disabled { opacity: 0.5; cursor: default; }
        #status { font-family: monospace; font-size: 13px; white-space: pre-wrap; }
        #message { margin-top: 12px; font-size: 14px; }
        .error { color: #b91c1c; }
        table { width: 100%; border-collapse: collapse; font-size: 14px; }
        td, th { text-align: left; padding: 6px; border-bottom: 1px solid #eee; }
    </style>
</head>
<body>
<div class="container">
    <div class="panel">
        <h1>VizCapture</h1>
        <div>
            <label>Subject<input id="subject" type="text" placeholder="recording"></label>
            <label>Format
                <select id="format">
                    <option value="gif">GIF</option>
                    <option value="mp4">MP4</option>
                </select>
            </label>
            <label>Rate<input id="rate" type="number" min="1" max="60" value="10" style="width: 60px"></label>
            <label>Quality<input id="quality" type="number" min="0.1" max="1" step="0.1" value="0.8" style="width: 60px"></label>
        </div>
        <p>
            <button id="start" class="start" onclick="startRecording()">Record</button>
            <button id="stop" class="stop" onclick="stopRecording()" disabled>Stop</button>
            <button id="capture" class="capture" onclick="captureFrame()" disabled>Capture</button>
            <button class="frame" onclick="window.location='/api/frame'">Download Frame</button>
        </p>
        <div id="message"></div>
    </div>
    <div class="panel">
        <h2>Status</h2>
        <div id="status">loading...</div>
    </div>
    <div class="panel">
        <h2>Artifacts</h2>
        <table>
            <thead><tr><th>Name</th><th>Size</th><th>Modified</th></tr></thead>
            <tbody id="artifacts"></tbody>
        </table>
    </div>
</div>
<script>
function show(text, isError) {
    const el = document.getElementById('message');
    el.textContent = text;
    el.className = isError ? 'error' : '';
}

async function call(method, url, body) {
    const opts = { method: method, headers: { 'Content-Type': 'application/json' } };
    if (body) opts.body = JSON.stringify(body);
    const resp = await fetch(url, opts);
    const data = await resp.json();
    if (!resp.ok) throw new Error(data.error || resp.statusText);
    return data;
}

async function startRecording() {
    try {
        await call('POST', '/api/recording/start', {
            subject: document.getElementById('subject').value,
            format: document.getElementById('format').value,
            frameRate: parseInt(document.getElementById('rate').value, 10),
            quality: parseFloat(document.getElementById('quality').value)
        });
        show('Recording started', false);
    } catch (e) { show(e.message, true); }
    refresh();
}

async function stopRecording() {
    try {
        const data = await call('POST', '/api/recording/stop');
        show(data.message, false);
    } catch (e) { show(e.message, true); }
    refresh();
}

async function captureFrame() {
    try {
        const data = await call('POST', '/api/recording/capture');
        show('Captured frame ' + data.frame_count, false);
    } catch (e) { show(e.message, true); }
}

async function refresh() {
    try {
        const status = await call('GET', '/api/recording/status');
        document.getElementById('status').textContent = JSON.stringify(status, null, 2);
        document.getElementById('start').disabled = status.status !== 'IDLE';
        document.getElementById('stop').disabled = !status.is_recording;
        document.getElementById('capture').disabled = !status.is_recording;

        const list = await call('GET', '/api/artifacts');
        const rows = list.artifacts.map(a =>
            '<tr><td><a href="' + a.download_url + '">' + a.name + '</a></td><td>' +
            a.size_human + '</td><td>' + a.mod_time_human + '</td></tr>');
        document.getElementById('artifacts').innerHTML = rows.join('');
    } catch (e) { show(e.message, true); }
}

refresh();
setInterval(refresh, 1000);
</script>
</body>
</html>
`
