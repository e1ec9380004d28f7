package msa

// LoginSuccessHTML is the page shown in the browser after a successful
// sign-in redirect.
const LoginSuccessHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Signed in</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
               display: flex; justify-content: center; align-items: center;
               height: 100vh; margin: 0; background: #1e1e2e; color: #cdd6f4; }
        .card { text-align: center; padding: 2.5rem 3rem; background: #313244;
                border-radius: 12px; box-shadow: 0 4px 24px rgba(0,0,0,0.3); }
        h1 { margin: 0 0 0.5rem; font-size: 1.5rem; color: #a6e3a1; }
        p { margin: 0; color: #bac2de; }
    </style>
</head>
<body>
    <div class="card">
        <h1>&#10003; Signed in</h1>
        <p>You can close this window and return to the launcher.</p>
    </div>
</body>
</html>`

// LoginErrorHTML is the page shown when the redirect carried an error or
// could not be matched to the running attempt.
const LoginErrorHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Sign-in failed</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
               display: flex; justify-content: center; align-items: center;
               height: 100vh; margin: 0; background: #1e1e2e; color: #cdd6f4; }
        .card { text-align: center; padding: 2.5rem 3rem; background: #313244;
                border-radius: 12px; box-shadow: 0 4px 24px rgba(0,0,0,0.3); }
        h1 { margin: 0 0 0.5rem; font-size: 1.5rem; color: #f38ba8; }
        p { margin: 0; color: #bac2de; }
    </style>
</head>
<body>
    <div class="card">
        <h1>Sign-in failed</h1>
        <p>Close this window and try again from the launcher.</p>
    </div>
</body>
</html>`
